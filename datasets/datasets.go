package datasets

import "github.com/Noofbiz/mcmri/ndarray"

// This file holds the types shared by the sample provider, the collation
// helpers and the gomlx loader.
//
// Layout and intended usage:
//
// MultiChannelMRIDataset
//   - Stores the paths of two stores: the image store (imgs, maps, ksp) and
//     the masks store (masks or mask_traj_<idx>, loss_masks, noise)
//   - Opens both on every access, pulls one sample, closes them again
//   - Runs the forward model on the sample and returns the simulated
//     measurement next to the ground truth
//
// Loader
//   - Wraps any Dataset, collates samples into batches and yields gomlx
//     tensors so the provider can feed a gomlx training loop.
//
// Stores are opened lazily, so a provider can be built cheaply in every
// worker that needs one.

// Dataset is the collaborator interface consumed by training code and by the
// Loader.
type Dataset interface {
	Len() int
	Example(idx int) (int, *Sample, error)
}

// Sample is one simulated training example. Arrays keep a leading batch
// dimension unless the stored sample had a leading dimension of exactly 1.
type Sample struct {
	// Imgs is the ground-truth image.
	Imgs ndarray.Array[complex64]
	// Maps are the coil sensitivities, frequency-shift modulated for
	// Cartesian data.
	Maps ndarray.Array[complex64]
	// Masks is the sampling mask, or the trajectory for non-Cartesian data.
	Masks ndarray.Array[float32]
	// LossMasks weights the training loss.
	LossMasks ndarray.Array[float32]
	// Out is the simulated measurement.
	Out ndarray.Array[complex64]
}

// FieldNames lists the sample fields in the order collated batches and
// tensors use.
var FieldNames = []string{"imgs", "maps", "masks", "loss_masks", "out"}
