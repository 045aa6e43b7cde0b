package datasets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Noofbiz/mcmri/store"
)

const outName = "out"

// cachePath is <CacheDir>/<ID>_<idx>_<base(DataFile)>.
func (d *MultiChannelMRIDataset) cachePath(idx int) string {
	return filepath.Join(d.cfg.cacheDir(), fmt.Sprintf("%s_%d_%s", d.cfg.ID, idx, filepath.Base(d.cfg.DataFile)))
}

// cached returns the simulated sample idx from the cache, simulating and
// storing it on a miss. Cached samples keep their noise draw.
func (d *MultiChannelMRIDataset) cached(idx int) (*simulated, error) {
	path := d.cachePath(idx)
	if _, err := os.Stat(path); err == nil {
		s, err := readCache(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read cached sample %s: %w", path, err)
		}
		d.logger.Debug("cache hit", "idx", idx, "path", path)
		return s, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	s, err := d.simulate(idx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := writeCache(path, s); err != nil {
		// a partial file would be served as a hit next time
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to cache sample %d: %w", idx, err)
	}
	d.logger.Debug("cached sample", "idx", idx, "path", path)
	return s, nil
}

func writeCache(path string, s *simulated) error {
	w, err := store.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := store.Put(w, imgsName, s.imgs); err != nil {
		return err
	}
	if err := store.Put(w, mapsName, s.maps); err != nil {
		return err
	}
	if err := store.Put(w, masksName, s.masks); err != nil {
		return err
	}
	if err := store.Put(w, lossMasksName, s.lossMasks); err != nil {
		return err
	}
	if err := store.Put(w, outName, s.out); err != nil {
		return err
	}
	return w.Close()
}

func readCache(path string) (*simulated, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := &simulated{}
	if s.imgs, err = f.ReadAllComplex(imgsName); err != nil {
		return nil, err
	}
	if s.maps, err = f.ReadAllComplex(mapsName); err != nil {
		return nil, err
	}
	if s.masks, err = f.ReadAllReal(masksName); err != nil {
		return nil, err
	}
	if s.lossMasks, err = f.ReadAllReal(lossMasksName); err != nil {
		return nil, err
	}
	if s.out, err = f.ReadAllComplex(outName); err != nil {
		return nil, err
	}
	return s, nil
}

// clearCache removes every cached sample of this dataset's ID and data file.
func (d *MultiChannelMRIDataset) clearCache() error {
	pattern := filepath.Join(d.cfg.cacheDir(), fmt.Sprintf("%s_*_%s", d.cfg.ID, filepath.Base(d.cfg.DataFile)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return fmt.Errorf("failed to remove cache file %s: %w", m, err)
		}
	}
	d.logger.Info("cleared sample cache", "files", len(matches))
	return nil
}
