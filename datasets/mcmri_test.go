package datasets

import (
	"math"
	"math/cmplx"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/mcmri/cfft"
	"github.com/Noofbiz/mcmri/forward"
	"github.com/Noofbiz/mcmri/ndarray"
	"github.com/Noofbiz/mcmri/store"
	"github.com/Noofbiz/mcmri/synth"
)

// writeSplit writes a synthetic split to a temporary directory and returns
// the two store paths.
func writeSplit(t *testing.T, o synth.Options) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "train.db")
	masksPath := filepath.Join(dir, "train_masks.db")
	require.NoError(t, synth.Write(dataPath, masksPath, o))
	return dataPath, masksPath
}

// writeStore writes the given datasets to a fresh store at path.
func writeStore(t *testing.T, path string, cplx map[string]ndarray.Complex, reals map[string]ndarray.Real) {
	t.Helper()
	w, err := store.Create(path)
	require.NoError(t, err)
	for name, a := range cplx {
		require.NoError(t, store.Put(w, name, a))
	}
	for name, a := range reals {
		require.NoError(t, store.Put(w, name, a))
	}
	require.NoError(t, w.Close())
}

func smallSplit() synth.Options {
	return synth.Options{Samples: 3, Coils: 2, Nx: 8, Ny: 8, Accel: 2, Center: 2, WithKsp: true, Seed: 11}
}

func TestExampleShapesAndTypes(t *testing.T) {
	dataPath, masksPath := writeSplit(t, smallSplit())
	ds, err := NewMultiChannelMRIDataset(Config{
		DataFile:  dataPath,
		MasksFile: masksPath,
		Forward:   forward.Config{Stdev: 0.1},
	})
	require.NoError(t, err)
	ds.SetRand(rand.New(rand.NewSource(1)))
	require.Equal(t, 3, ds.Len())

	for i := 0; i < ds.Len(); i++ {
		idx, s, err := ds.Example(i)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
		// the stored [8, 8] masks row gains a leading 1 that is squeezed away again
		assert.Equal(t, ndarray.Shape{8, 8}, s.Imgs.Shape)
		assert.Equal(t, ndarray.Shape{2, 8, 8}, s.Maps.Shape)
		assert.Equal(t, ndarray.Shape{8, 8}, s.Masks.Shape)
		assert.Equal(t, ndarray.Shape{8, 8}, s.LossMasks.Shape)
		assert.Equal(t, ndarray.Shape{2, 8, 8}, s.Out.Shape)
		assert.IsType(t, []complex64{}, s.Out.Data)
		assert.IsType(t, []float32{}, s.Masks.Data)
	}
}

func TestInverseCrimeAdjointScenario(t *testing.T) {
	const n, nc, nx, ny = 10, 4, 128, 128
	dataPath, masksPath := writeSplit(t, synth.Options{Samples: n, Coils: nc, Nx: nx, Ny: ny, Accel: 4, Center: 8, Seed: 2})

	ds, err := NewMultiChannelMRIDataset(Config{
		DataFile:  dataPath,
		MasksFile: masksPath,
		Forward:   forward.Config{Stdev: 0, InverseCrime: true, AdjointData: true},
	})
	require.NoError(t, err)
	require.Equal(t, n, ds.Len())

	_, s, err := ds.Example(0)
	require.NoError(t, err)
	require.Equal(t, ndarray.Shape{nx, ny}, s.Out.Shape)

	data, err := store.Open(dataPath)
	require.NoError(t, err)
	defer data.Close()
	img, err := data.ReadComplex("imgs", 0)
	require.NoError(t, err)
	maps, err := data.ReadComplex("maps", 0)
	require.NoError(t, err)
	masks, err := store.Open(masksPath)
	require.NoError(t, err)
	defer masks.Close()
	mask, err := masks.ReadReal("masks", 0)
	require.NoError(t, err)

	plane := nx * ny
	coil := ndarray.New[complex128](1, nc, nx, ny)
	for c := 0; c < nc; c++ {
		for p := 0; p < plane; p++ {
			coil.Data[c*plane+p] = img.Data[p] * maps.Data[c*plane+p]
		}
	}
	ksp, err := cfft.FFT2C(coil)
	require.NoError(t, err)
	for c := 0; c < nc; c++ {
		for p := 0; p < plane; p++ {
			ksp.Data[c*plane+p] *= complex(mask.Data[p], 0)
		}
	}
	want, err := forward.CoilCombine(ksp, maps.ExpandDims())
	require.NoError(t, err)

	for p := 0; p < plane; p++ {
		require.InDelta(t, 0, cmplx.Abs(want.Data[p]-complex128(s.Out.Data[p])), 1e-4, "pixel %d", p)
	}
}

func TestFullySampledMasks(t *testing.T) {
	dataPath, masksPath := writeSplit(t, synth.Options{Samples: 10, Coils: 2, Nx: 32, Ny: 32, Accel: 4, Center: 4, Seed: 4})
	ds, err := NewMultiChannelMRIDataset(Config{
		DataFile:     dataPath,
		MasksFile:    masksPath,
		FullySampled: true,
		Forward:      forward.Config{InverseCrime: true, AdjointData: true},
	})
	require.NoError(t, err)

	for i := 0; i < ds.Len(); i++ {
		_, s, err := ds.Example(i)
		require.NoError(t, err)
		require.Equal(t, ndarray.Shape{32, 32}, s.Masks.Shape)
		for _, v := range s.Masks.Data {
			require.Equal(t, float32(1), v)
		}
	}
}

func TestTrajectoryFallback(t *testing.T) {
	o := synth.Options{Samples: 4, Coils: 2, Nx: 8, Ny: 8, WithKsp: true, Trajectories: true, Spokes: 4, Readout: 8, Seed: 5}
	dataPath, masksPath := writeSplit(t, o)

	// give sample 3 its own trajectory
	traj := synth.RadialTrajectory(o.Spokes, o.Readout)
	for i := range traj.Data {
		traj.Data[i] *= 0.5
	}
	w, err := store.Create(masksPath)
	require.NoError(t, err)
	require.NoError(t, store.Put(w, store.TrajectoryName(3), traj))
	require.NoError(t, w.Close())

	raw, err := NewReader(dataPath, masksPath).LoadDataKsp(3)
	require.NoError(t, err)
	require.Equal(t, ndarray.Shape{1, 32, 2}, raw.Masks.Shape)
	require.Equal(t, ndarray.Shape{1, 8, 8}, raw.Imgs.Shape)
	require.NotNil(t, raw.Ksp)
	require.Equal(t, ndarray.Shape{1, 2, 8, 8}, raw.Ksp.Shape)
	for i, v := range raw.Masks.Data {
		require.InDelta(t, traj.Data[i], v, 1e-7)
	}

	ds, err := NewMultiChannelMRIDataset(Config{
		DataFile:  dataPath,
		MasksFile: masksPath,
		Forward:   forward.Config{NonCart: true},
	})
	require.NoError(t, err)
	_, s, err := ds.Example(3)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{32, 2}, s.Masks.Shape)
	assert.Equal(t, ndarray.Shape{2, 32}, s.Out.Shape)
	// non-Cartesian maps are handed back unmodulated
	assert.Equal(t, ndarray.ToComplex64(raw.Maps).Data, s.Maps.Data)
}

func TestNonCartesianStoredNoise(t *testing.T) {
	o := synth.Options{Samples: 2, Coils: 2, Nx: 8, Ny: 8, WithKsp: true, WithNoise: true, Trajectories: true, Spokes: 4, Readout: 8, Seed: 3}
	dataPath, masksPath := writeSplit(t, o)

	const stdev = 0.3
	simulate := func(stdev float64) *Sample {
		ds, err := NewMultiChannelMRIDataset(Config{
			DataFile:  dataPath,
			MasksFile: masksPath,
			Forward:   forward.Config{NonCart: true, Stdev: stdev},
		})
		require.NoError(t, err)
		_, s, err := ds.Example(1)
		require.NoError(t, err)
		return s
	}
	noisy, clean := simulate(stdev), simulate(0)
	require.Equal(t, ndarray.Shape{2, 32}, noisy.Out.Shape)

	f, err := store.Open(masksPath)
	require.NoError(t, err)
	noise, err := f.ReadComplex("noise", 1)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, ndarray.Shape{2, 32}, noise.Shape)

	scale := stdev / math.Sqrt2
	for i, v := range noise.Data {
		got := complex128(noisy.Out.Data[i] - clean.Out.Data[i])
		require.InDelta(t, 0, cmplx.Abs(got-complex(scale, 0)*v), 1e-4)
	}

	// a noise row that does not match the trajectory length
	w, err := store.Create(masksPath)
	require.NoError(t, err)
	require.NoError(t, store.Put(w, "noise", ndarray.Ones[complex128](2, 2, 33)))
	require.NoError(t, w.Close())
	ds, err := NewMultiChannelMRIDataset(Config{DataFile: dataPath, MasksFile: masksPath, Forward: forward.Config{NonCart: true, Stdev: stdev}})
	require.NoError(t, err)
	_, _, err = ds.Example(0)
	var sme *ndarray.ShapeMismatchError
	require.ErrorAs(t, err, &sme)
}

func TestMissingDatasets(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	masksPath := filepath.Join(dir, "masks.db")
	writeStore(t, dataPath, map[string]ndarray.Complex{
		"imgs": ndarray.Ones[complex128](2, 4, 4),
		"maps": ndarray.Ones[complex128](2, 1, 4, 4),
		"ksp":  ndarray.Ones[complex128](2, 1, 4, 4),
	}, nil)
	writeStore(t, masksPath, nil, map[string]ndarray.Real{
		"loss_masks":            ndarray.Ones[float64](2, 4, 4),
		store.TrajectoryName(0): ndarray.New[float64](16, 2),
	})
	r := NewReader(dataPath, masksPath)

	var mde *store.MissingDatasetError
	_, err := r.LoadDataKsp(1)
	require.ErrorAs(t, err, &mde)
	assert.Equal(t, "mask_traj_1", mde.Name)

	_, err = r.LoadData(0)
	require.ErrorAs(t, err, &mde)
	assert.Equal(t, "masks", mde.Name)

	var oor *store.IndexOutOfRangeError
	_, err = r.LoadDataKsp(2)
	require.ErrorAs(t, err, &oor)
}

func TestBatchOfOneSqueeze(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	masksPath := filepath.Join(dir, "masks.db")
	writeStore(t, dataPath, map[string]ndarray.Complex{
		"imgs": ndarray.Ones[complex128](2, 1, 4, 4),
		"maps": ndarray.Ones[complex128](2, 1, 3, 4, 4),
	}, nil)
	writeStore(t, masksPath, nil, map[string]ndarray.Real{
		"masks":      ndarray.Ones[float64](2, 1, 4, 4),
		"loss_masks": ndarray.Ones[float64](2, 1, 4, 4),
	})
	ds, err := NewMultiChannelMRIDataset(Config{
		DataFile:  dataPath,
		MasksFile: masksPath,
		Forward:   forward.Config{InverseCrime: true},
	})
	require.NoError(t, err)

	_, s, err := ds.Example(1)
	require.NoError(t, err)
	// stored rows are [1, ...]; the returned arrays drop that axis
	assert.Equal(t, ndarray.Shape{4, 4}, s.Imgs.Shape)
	assert.Equal(t, ndarray.Shape{3, 4, 4}, s.Maps.Shape)
	assert.Equal(t, ndarray.Shape{4, 4}, s.Masks.Shape)
	assert.Equal(t, ndarray.Shape{4, 4}, s.LossMasks.Shape)
	assert.Equal(t, ndarray.Shape{3, 4, 4}, s.Out.Shape)
}

func TestBatchedRowsAreNotSqueezedOrScaled(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	masksPath := filepath.Join(dir, "masks.db")
	writeStore(t, dataPath, map[string]ndarray.Complex{
		"imgs": ndarray.Ones[complex128](2, 2, 4, 4),
		"maps": ndarray.Ones[complex128](2, 2, 1, 4, 4),
	}, nil)
	writeStore(t, masksPath, nil, map[string]ndarray.Real{
		"masks":      ndarray.Ones[float64](2, 2, 4, 4),
		"loss_masks": ndarray.Ones[float64](2, 2, 4, 4),
	})
	cfg := Config{DataFile: dataPath, MasksFile: masksPath, Forward: forward.Config{InverseCrime: true, AdjointData: true}}
	ds, err := NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	_, s, err := ds.Example(0)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{2, 4, 4}, s.Out.Shape)

	cfg.ScaleData = true
	ds, err = NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	_, _, err = ds.Example(0)
	var ume *forward.UnsupportedModeError
	require.ErrorAs(t, err, &ume)
}

func TestScaleData(t *testing.T) {
	dataPath, masksPath := writeSplit(t, smallSplit())
	ds, err := NewMultiChannelMRIDataset(Config{
		DataFile:     dataPath,
		MasksFile:    masksPath,
		ScaleData:    true,
		FullySampled: true,
		Forward:      forward.Config{InverseCrime: true, AdjointData: true},
	})
	require.NoError(t, err)

	_, s, err := ds.Example(2)
	require.NoError(t, err)
	mags := make([]float64, len(s.Imgs.Data))
	for i, v := range s.Imgs.Data {
		mags[i] = cmplx.Abs(complex128(v))
	}
	sort.Float64s(mags)
	assert.InDelta(t, 1, stat.Quantile(0.99, stat.LinInterp, mags, nil), 1e-5)

	// fully sampled and noiseless, so the adjoint returns the scaled image
	for i := range s.Imgs.Data {
		require.InDelta(t, 0, cmplx.Abs(complex128(s.Out.Data[i]-s.Imgs.Data[i])), 1e-4)
	}
}

func TestModesAreMutuallyExclusive(t *testing.T) {
	dataPath, masksPath := writeSplit(t, smallSplit())
	_, err := NewMultiChannelMRIDataset(Config{
		DataFile:  dataPath,
		MasksFile: masksPath,
		Forward:   forward.Config{NonCart: true, InverseCrime: true},
	})
	var ume *forward.UnsupportedModeError
	require.ErrorAs(t, err, &ume)
}

func TestFullySampledRejectsTrajectories(t *testing.T) {
	o := synth.Options{Samples: 2, Coils: 2, Nx: 8, Ny: 8, WithKsp: true, Trajectories: true, Spokes: 4, Readout: 8, Seed: 5}
	dataPath, masksPath := writeSplit(t, o)
	cfg := Config{
		DataFile:     dataPath,
		MasksFile:    masksPath,
		FullySampled: true,
		Forward:      forward.Config{NonCart: true},
	}
	_, err := NewMultiChannelMRIDataset(cfg)
	var ume *forward.UnsupportedModeError
	require.ErrorAs(t, err, &ume)

	cfg.FullySampled = false
	ds, err := NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	_, _, err = ds.Example(0)
	require.NoError(t, err)
}

func TestIdempotence(t *testing.T) {
	o := smallSplit()
	dataPath, masksPath := writeSplit(t, o)
	cfg := Config{DataFile: dataPath, MasksFile: masksPath, Forward: forward.Config{Stdev: 0.5}}

	ds, err := NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	_, a, err := ds.Example(1)
	require.NoError(t, err)
	_, b, err := ds.Example(1)
	require.NoError(t, err)
	assert.Equal(t, a.Imgs.Data, b.Imgs.Data)
	assert.Equal(t, a.Maps.Data, b.Maps.Data)
	assert.NotEqual(t, a.Out.Data, b.Out.Data, "generated noise differs between draws")

	o.WithNoise = true
	dataPath, masksPath = writeSplit(t, o)
	cfg.DataFile, cfg.MasksFile = dataPath, masksPath
	ds, err = NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	ds.SetRand(rand.New(rand.NewSource(1)))
	_, a, err = ds.Example(1)
	require.NoError(t, err)
	ds.SetRand(rand.New(rand.NewSource(2)))
	_, b, err = ds.Example(1)
	require.NoError(t, err)
	assert.Equal(t, a.Out.Data, b.Out.Data, "stored noise makes out deterministic")
}

func TestLengthAndIndexing(t *testing.T) {
	dataPath, masksPath := writeSplit(t, smallSplit())
	cfg := Config{DataFile: dataPath, MasksFile: masksPath, Forward: forward.Config{InverseCrime: true}}

	ds, err := NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	var oor *store.IndexOutOfRangeError
	_, _, err = ds.Example(3)
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 3, oor.Index)
	assert.Equal(t, 3, oor.Len)
	assert.EqualError(t, err, "sample index 3 out of range [0, 3)")
	_, _, err = ds.Example(-1)
	require.ErrorAs(t, err, &oor)

	cfg.NumDataSets = 2
	ds, err = NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	_, _, err = ds.Example(2)
	require.ErrorAs(t, err, &oor)

	cfg.NumDataSets = 50
	ds, err = NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	pinned := 2
	cfg.DataIdx = &pinned
	ds, err = NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	idx, s, err := ds.Example(7)
	require.NoError(t, err)
	assert.Equal(t, 7, idx)
	_, want, err := ds.Example(0)
	require.NoError(t, err)
	assert.Equal(t, want.Imgs.Data, s.Imgs.Data)

	bad := 3
	cfg.DataIdx = &bad
	_, err = NewMultiChannelMRIDataset(cfg)
	require.ErrorAs(t, err, &oor)
}

func TestLayoutMismatch(t *testing.T) {
	tests := []struct {
		name    string
		nonCart bool
		cplx    map[string]ndarray.Complex
		reals   map[string]ndarray.Real
		noise   *ndarray.Complex
	}{
		{
			name:  "leading dimension of masks",
			reals: map[string]ndarray.Real{"masks": ndarray.Ones[float64](2, 4, 4)},
		},
		{
			name:  "spatial shape of loss_masks",
			reals: map[string]ndarray.Real{"loss_masks": ndarray.Ones[float64](3, 3, 3)},
		},
		{
			name:  "spatial shape of masks",
			reals: map[string]ndarray.Real{"masks": ndarray.Ones[float64](3, 4, 5)},
		},
		{
			name: "spatial shape of maps",
			cplx: map[string]ndarray.Complex{"maps": ndarray.Ones[complex128](3, 2, 5, 4)},
		},
		{
			name: "rank of maps",
			cplx: map[string]ndarray.Complex{"maps": ndarray.Ones[complex128](3, 4, 4)},
		},
		{
			name: "ksp against maps",
			cplx: map[string]ndarray.Complex{"ksp": ndarray.Ones[complex128](3, 1, 4, 4)},
		},
		{
			name:  "Cartesian noise against maps",
			noise: ptr(ndarray.Ones[complex128](3, 2, 4, 2)),
		},
		{
			name:    "non-Cartesian noise channels",
			nonCart: true,
			reals:   map[string]ndarray.Real{"masks": ndarray.New[float64](3, 8, 2)},
			noise:   ptr(ndarray.Ones[complex128](3, 1, 8)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			dataPath := filepath.Join(dir, "data.db")
			masksPath := filepath.Join(dir, "masks.db")
			cplx := map[string]ndarray.Complex{
				"imgs": ndarray.Ones[complex128](3, 4, 4),
				"maps": ndarray.Ones[complex128](3, 2, 4, 4),
				"ksp":  ndarray.Ones[complex128](3, 2, 4, 4),
			}
			for k, v := range tt.cplx {
				cplx[k] = v
			}
			reals := map[string]ndarray.Real{
				"masks":      ndarray.Ones[float64](3, 4, 4),
				"loss_masks": ndarray.Ones[float64](3, 4, 4),
			}
			for k, v := range tt.reals {
				reals[k] = v
			}
			writeStore(t, dataPath, cplx, nil)
			writeStore(t, masksPath, nil, reals)
			if tt.noise != nil {
				w, err := store.Create(masksPath)
				require.NoError(t, err)
				require.NoError(t, store.Put(w, "noise", *tt.noise))
				require.NoError(t, w.Close())
			}

			_, err := NewMultiChannelMRIDataset(Config{DataFile: dataPath, MasksFile: masksPath, Forward: forward.Config{NonCart: tt.nonCart}})
			var sme *ndarray.ShapeMismatchError
			require.ErrorAs(t, err, &sme)
		})
	}
}

func TestLayoutAcceptsMatchingStores(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	masksPath := filepath.Join(dir, "masks.db")
	writeStore(t, dataPath, map[string]ndarray.Complex{
		"imgs": ndarray.Ones[complex128](3, 4, 4),
		"maps": ndarray.Ones[complex128](3, 2, 4, 4),
	}, nil)
	writeStore(t, masksPath, map[string]ndarray.Complex{
		"noise": ndarray.Ones[complex128](3, 2, 4, 4),
	}, map[string]ndarray.Real{
		"masks":      ndarray.Ones[float64](3, 4, 4),
		"loss_masks": ndarray.Ones[float64](3, 4, 4),
	})
	_, err := NewMultiChannelMRIDataset(Config{DataFile: dataPath, MasksFile: masksPath, Forward: forward.Config{InverseCrime: true}})
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

func TestSampleCache(t *testing.T) {
	dataPath, masksPath := writeSplit(t, smallSplit())
	cacheDir := t.TempDir()
	cfg := Config{
		DataFile:  dataPath,
		MasksFile: masksPath,
		Forward:   forward.Config{Stdev: 1},
		CacheData: true,
		CacheDir:  cacheDir,
		ID:        "run",
	}
	ds, err := NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	ds.SetRand(rand.New(rand.NewSource(1)))
	_, a, err := ds.Example(0)
	require.NoError(t, err)

	path := filepath.Join(cacheDir, "run_0_train.db")
	require.FileExists(t, path)

	ds.SetRand(rand.New(rand.NewSource(2)))
	_, b, err := ds.Example(0)
	require.NoError(t, err)
	assert.Equal(t, a.Out.Data, b.Out.Data)
	assert.Equal(t, a.Maps.Data, b.Maps.Data)
	assert.Equal(t, a.Masks.Shape, b.Masks.Shape)

	cfg.ClearCache = true
	_, err = NewMultiChannelMRIDataset(cfg)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	cfg.ID = ""
	_, err = NewMultiChannelMRIDataset(cfg)
	require.Error(t, err)
}
