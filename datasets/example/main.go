package main

// Example command that writes a small synthetic split, builds the
// multi-channel MRI dataset on top of it and walks one epoch of batches
// through the gomlx Loader.
//
// Usage:
//   go run ./datasets/example
//
// The stores are written to a temporary directory that is removed on exit.

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/Noofbiz/mcmri/datasets"
	"github.com/Noofbiz/mcmri/forward"
	"github.com/Noofbiz/mcmri/synth"
)

func main() {
	dir, err := os.MkdirTemp("", "mcmri-example")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := datasets.Config{
		DataFile:  filepath.Join(dir, "train.db"),
		MasksFile: filepath.Join(dir, "train_masks.db"),
		Forward:   forward.Config{Stdev: 0.01, InverseCrime: true, AdjointData: true},
	}
	o := synth.DefaultOptions()
	o.Samples, o.Nx, o.Ny = 6, 64, 64
	if err := synth.Write(cfg.DataFile, cfg.MasksFile, o); err != nil {
		log.Fatalf("failed to write synthetic split: %v", err)
	}

	ds, err := datasets.NewMultiChannelMRIDataset(cfg)
	if err != nil {
		log.Fatalf("failed to build dataset: %v", err)
	}
	ds.SetRand(rand.New(rand.NewSource(1)))
	fmt.Printf("Dataset %s serves %d samples\n", ds.Name(), ds.Len())

	_, s, err := ds.Example(0)
	if err != nil {
		log.Fatalf("failed to simulate sample 0: %v", err)
	}
	fmt.Printf("  imgs %v maps %v masks %v out %v\n", s.Imgs.Shape, s.Maps.Shape, s.Masks.Shape, s.Out.Shape)

	loader, err := datasets.NewLoader("example", ds, datasets.LoaderConfig{BatchSize: 4, Shuffle: true, Seed: 1})
	if err != nil {
		log.Fatalf("failed to build loader: %v", err)
	}
	for {
		_, inputs, labels, err := loader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("failed to yield batch: %v", err)
		}
		fmt.Printf("Batch: out=%v maps=%v masks=%v | imgs=%v loss_masks=%v\n",
			inputs[0].Shape(), inputs[1].Shape(), inputs[2].Shape(), labels[0].Shape(), labels[1].Shape())
	}
}
