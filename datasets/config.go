package datasets

import (
	"fmt"

	"github.com/Noofbiz/mcmri/forward"
)

// Config configures a MultiChannelMRIDataset. It is read from the "dataset"
// section of the YAML configuration file.
type Config struct {
	// DataFile is the image store (imgs, maps, ksp).
	DataFile string `yaml:"data_file"`
	// MasksFile is the masks store (masks or mask_traj_<idx>, loss_masks, noise).
	MasksFile string `yaml:"masks_file"`

	Forward forward.Config `yaml:",inline"`

	// NumDataSets caps Len(); 0 means every stored sample.
	NumDataSets int `yaml:"num_data_sets"`
	// FullySampled replaces every mask with ones.
	FullySampled bool `yaml:"fully_sampled"`
	// DataIdx pins the dataset to a single stored sample.
	DataIdx *int `yaml:"data_idx"`
	// ScaleData divides imgs and ksp by the 99th percentile magnitude of imgs.
	ScaleData bool `yaml:"scale_data"`

	// CacheData keeps simulated samples in CacheDir, keyed by ID.
	CacheData  bool   `yaml:"cache_data"`
	ClearCache bool   `yaml:"clear_cache"`
	CacheDir   string `yaml:"cache_dir"`
	ID         string `yaml:"id"`
}

// Validate checks the fields that do not need the stores.
func (c Config) Validate() error {
	if c.DataFile == "" || c.MasksFile == "" {
		return fmt.Errorf("data_file and masks_file are required")
	}
	if c.NumDataSets < 0 {
		return fmt.Errorf("num_data_sets must be >= 0, got %d", c.NumDataSets)
	}
	if c.CacheData && c.ID == "" {
		return fmt.Errorf("cache_data needs an id")
	}
	if c.FullySampled && c.Forward.NonCart {
		return &forward.UnsupportedModeError{Mode: "fully_sampled+noncart", Reason: "a trajectory has no fully sampled equivalent"}
	}
	return c.Forward.Validate()
}

func (c Config) cacheDir() string {
	if c.CacheDir == "" {
		return "cache"
	}
	return c.CacheDir
}
