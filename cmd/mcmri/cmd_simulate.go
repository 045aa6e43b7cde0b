package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Noofbiz/mcmri/datasets"
	"github.com/Noofbiz/mcmri/store"
)

// progressInterval controls how often simulate logs progress.
const progressInterval = 3 * time.Second

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate every sample and write them to a store",
		Long: `Simulate runs the forward model over every sample the configured dataset
serves and writes the collated imgs, maps, masks, loss_masks and out
datasets to <output_dir>/simulated.db.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			cfg := e.cfg.Dataset
			if c, _ := cmd.Flags().GetBool("cache"); c {
				cfg.CacheData = true
				if cfg.ID == "" {
					cfg.ID = uuid.NewString()
				}
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = filepath.Join(e.cfg.OutputDir, "simulated.db")
			}

			samples, err := simulateAll(e, cfg)
			if err != nil {
				return err
			}
			b, err := datasets.Collate(samples)
			if err != nil {
				return err
			}
			if err := writeBatch(out, b); err != nil {
				return err
			}
			e.logger.Info("wrote simulated samples", "path", out, "samples", b.Size, "cache_id", cfg.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d samples to %s\n", b.Size, out)
			return nil
		},
	}
	cmd.Flags().Bool("cache", false, "Cache simulated samples (a random id is used when none is configured)")
	cmd.Flags().String("out", "", "Output store (default <output_dir>/simulated.db)")
	return cmd
}

// simulateAll simulates every sample with a pool of workers. Each worker owns
// a provider; the noise seed of sample i is the i-th draw of the root source,
// so the result does not depend on the worker count.
func simulateAll(e *env, cfg datasets.Config) ([]*datasets.Sample, error) {
	first, err := datasets.NewMultiChannelMRIDataset(cfg)
	if err != nil {
		return nil, err
	}
	n := first.Len()
	if n == 0 {
		return nil, fmt.Errorf("no samples in %s", cfg.DataFile)
	}
	// only the first provider may clear the cache
	cfg.ClearCache = false

	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = e.rng.Int63()
	}

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, n)

	var done int64
	ticker := time.NewTicker(progressInterval)
	stopProgress := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d := atomic.LoadInt64(&done)
				e.logger.Info("[Simulate] progress", "done", d, "total", n, "percent", fmt.Sprintf("%.1f", float64(d)/float64(n)*100))
			case <-stopProgress:
				e.logger.Info("[Simulate] completed", "done", atomic.LoadInt64(&done), "total", n)
				return
			}
		}
	}()

	samples := make([]*datasets.Sample, n)
	jobs := make(chan int)
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			ds, err := datasets.NewMultiChannelMRIDataset(cfg)
			if err != nil {
				errCh <- err
				return
			}
			ds.SetLogger(e.logger)
			for i := range jobs {
				ds.SetRand(rand.New(rand.NewSource(seeds[i])))
				_, s, err := ds.Example(i)
				if err != nil {
					errCh <- err
					return
				}
				samples[i] = s
				atomic.AddInt64(&done, 1)
			}
		}()
	}

	// a worker that fails stops reading, so stop enqueuing once one has
	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-stopProgress:
				return
			}
		}
	}()
	wg.Wait()
	close(stopProgress)
	close(errCh)

	if err, ok := <-errCh; ok {
		return nil, err
	}
	return samples, nil
}

func writeBatch(path string, b *datasets.Batch) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	w, err := store.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	for _, put := range []func() error{
		func() error { return store.Put(w, "imgs", b.Imgs) },
		func() error { return store.Put(w, "maps", b.Maps) },
		func() error { return store.Put(w, "masks", b.Masks) },
		func() error { return store.Put(w, "loss_masks", b.LossMasks) },
		func() error { return store.Put(w, "out", b.Out) },
	} {
		if err := put(); err != nil {
			return err
		}
	}
	return w.Close()
}
