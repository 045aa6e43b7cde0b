package synth

import (
	"fmt"
	"math/rand"

	"github.com/Noofbiz/mcmri/cfft"
	"github.com/Noofbiz/mcmri/forward"
	"github.com/Noofbiz/mcmri/ndarray"
	"github.com/Noofbiz/mcmri/store"
)

// Options describes a synthetic dataset split.
type Options struct {
	// Samples is the leading dimension N of every dataset.
	Samples int `yaml:"samples"`
	Coils   int `yaml:"coils"`
	Nx      int `yaml:"nx"`
	Ny      int `yaml:"ny"`

	// Accel and Center control the Cartesian masks.
	Accel  float64 `yaml:"accel"`
	Center int     `yaml:"center"`

	// WithKsp stores ksp = fft2uc(img ⊙ maps) in the image store.
	WithKsp bool `yaml:"with_ksp"`
	// WithNoise stores unit complex Gaussian noise shaped like ksp.
	WithNoise bool `yaml:"with_noise"`

	// Trajectories writes mask_traj_<idx> radial trajectories instead of a
	// shared masks dataset.
	Trajectories bool `yaml:"trajectories"`
	Spokes       int  `yaml:"spokes"`
	Readout      int  `yaml:"readout"`

	Seed int64 `yaml:"seed"`
}

// DefaultOptions is a small Cartesian split suitable for quick experiments.
func DefaultOptions() Options {
	return Options{
		Samples: 10,
		Coils:   4,
		Nx:      128,
		Ny:      128,
		Accel:   4,
		Center:  12,
		WithKsp: true,
		Spokes:  32,
		Readout: 128,
		Seed:    1,
	}
}

func (o Options) validate() error {
	if o.Samples <= 0 || o.Coils <= 0 || o.Nx <= 0 || o.Ny <= 0 {
		return fmt.Errorf("samples, coils, nx and ny must be positive: %+v", o)
	}
	if o.Trajectories && (o.Spokes <= 0 || o.Readout <= 0) {
		return fmt.Errorf("trajectories need positive spokes and readout: %+v", o)
	}
	return nil
}

// Write generates a split and stores it as dataPath (imgs, maps, ksp) and
// masksPath (masks or mask_traj_<idx>, loss_masks, noise).
func Write(dataPath, masksPath string, o Options) error {
	if err := o.validate(); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(o.Seed))
	n, nc, nx, ny := o.Samples, o.Coils, o.Nx, o.Ny
	plane := nx * ny

	base := Phantom(nx, ny)
	coilMaps := CoilMaps(nc, nx, ny)

	imgs := ndarray.New[complex128](n, nx, ny)
	maps := ndarray.New[complex128](n, nc, nx, ny)
	for s := 0; s < n; s++ {
		// vary contrast per sample so samples are distinguishable
		gain := complex(1+0.1*float64(s), 0)
		for p, v := range base.Data {
			imgs.Data[s*plane+p] = gain * v
		}
		copy(maps.Data[s*nc*plane:(s+1)*nc*plane], coilMaps.Data)
	}

	dw, err := store.Create(dataPath)
	if err != nil {
		return err
	}
	defer dw.Close()
	if err := store.Put(dw, "imgs", imgs); err != nil {
		return err
	}
	if err := store.Put(dw, "maps", maps); err != nil {
		return err
	}
	if o.WithKsp {
		ksp, err := cfft.FFT2C(forward.WeightByMaps(imgs, maps))
		if err != nil {
			return fmt.Errorf("failed to transform coil images: %w", err)
		}
		if err := store.Put(dw, "ksp", ksp); err != nil {
			return err
		}
	}
	if err := dw.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dataPath, err)
	}

	mw, err := store.Create(masksPath)
	if err != nil {
		return err
	}
	defer mw.Close()
	if o.Trajectories {
		traj := RadialTrajectory(o.Spokes, o.Readout)
		for s := 0; s < n; s++ {
			if err := store.Put(mw, store.TrajectoryName(s), traj); err != nil {
				return err
			}
		}
	} else {
		masks := ndarray.New[float64](n, nx, ny)
		for s := 0; s < n; s++ {
			m := VariableDensityMask(rng, nx, ny, o.Accel, o.Center)
			copy(masks.Data[s*plane:(s+1)*plane], m.Data)
		}
		if err := store.Put(mw, "masks", masks); err != nil {
			return err
		}
	}
	if err := store.Put(mw, "loss_masks", ndarray.Ones[float32](n, nx, ny)); err != nil {
		return err
	}
	if o.WithNoise {
		shape := []int{n, nc, nx, ny}
		if o.Trajectories {
			shape = []int{n, nc, o.Spokes * o.Readout}
		}
		if err := store.Put(mw, "noise", forward.GaussianNoise(rng, shape...)); err != nil {
			return err
		}
	}
	return mw.Close()
}
