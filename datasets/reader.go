package datasets

import (
	"fmt"

	"github.com/Noofbiz/mcmri/ndarray"
	"github.com/Noofbiz/mcmri/store"
)

// Dataset names looked up in the two stores.
const (
	imgsName      = "imgs"
	mapsName      = "maps"
	kspName       = "ksp"
	masksName     = "masks"
	lossMasksName = "loss_masks"
	noiseName     = "noise"
)

// RawSample holds the stored arrays of one sample before simulation.
type RawSample struct {
	Imgs      ndarray.Complex
	Maps      ndarray.Complex
	Masks     ndarray.Real
	LossMasks ndarray.Real
	// Noise is nil when the masks store holds no precomputed noise.
	Noise *ndarray.Complex
	// Ksp is only read by LoadDataKsp.
	Ksp *ndarray.Complex
}

// Reader pulls samples out of an image store and a masks store. It keeps no
// handles open between calls.
type Reader struct {
	DataFile  string
	MasksFile string
}

// NewReader returns a Reader over the two store paths.
func NewReader(dataFile, masksFile string) *Reader {
	return &Reader{DataFile: dataFile, MasksFile: masksFile}
}

// Available returns the leading dimension of the imgs dataset.
func (r *Reader) Available() (int, error) {
	data, err := store.Open(r.DataFile)
	if err != nil {
		return 0, err
	}
	defer data.Close()
	meta, err := data.Meta(imgsName)
	if err != nil {
		return 0, err
	}
	return meta.Shape[0], nil
}

// LoadData reads imgs and maps from the image store and masks, loss_masks
// and the optional noise from the masks store.
func (r *Reader) LoadData(idx int) (*RawSample, error) {
	return r.load(idx, false)
}

// LoadDataKsp is LoadData plus ksp. When the masks store has no "masks"
// dataset the whole mask_traj_<idx> dataset is used instead.
func (r *Reader) LoadDataKsp(idx int) (*RawSample, error) {
	return r.load(idx, true)
}

func (r *Reader) load(idx int, withKsp bool) (*RawSample, error) {
	data, err := store.Open(r.DataFile)
	if err != nil {
		return nil, err
	}
	defer data.Close()
	masks, err := store.Open(r.MasksFile)
	if err != nil {
		return nil, err
	}
	defer masks.Close()

	s := &RawSample{}
	if s.Imgs, err = data.ReadComplex(imgsName, idx); err != nil {
		return nil, err
	}
	if s.Maps, err = data.ReadComplex(mapsName, idx); err != nil {
		return nil, err
	}
	if withKsp {
		ksp, err := data.ReadComplex(kspName, idx)
		if err != nil {
			return nil, err
		}
		s.Ksp = &ksp
	}

	switch {
	case masks.Has(masksName) || !withKsp:
		s.Masks, err = masks.ReadReal(masksName, idx)
	default:
		s.Masks, err = masks.ReadAllReal(store.TrajectoryName(idx))
	}
	if err != nil {
		return nil, err
	}
	if s.LossMasks, err = masks.ReadReal(lossMasksName, idx); err != nil {
		return nil, err
	}
	if masks.Has(noiseName) {
		noise, err := masks.ReadComplex(noiseName, idx)
		if err != nil {
			return nil, err
		}
		s.Noise = &noise
	}

	if s.Masks.Rank() == 2 {
		s.expandDims()
	}
	return s, nil
}

// expandDims gives every array a leading dimension of 1.
func (s *RawSample) expandDims() {
	s.Imgs = s.Imgs.ExpandDims()
	s.Maps = s.Maps.ExpandDims()
	s.Masks = s.Masks.ExpandDims()
	s.LossMasks = s.LossMasks.ExpandDims()
	if s.Noise != nil {
		n := s.Noise.ExpandDims()
		s.Noise = &n
	}
	if s.Ksp != nil {
		k := s.Ksp.ExpandDims()
		s.Ksp = &k
	}
}

// checkLayout verifies that the datasets of both stores agree on their
// leading dimension and on the spatial shape (Nx, Ny) of imgs. ksp and
// Cartesian noise must match maps. nonCart skips the spatial check of masks,
// which then hold trajectories.
func (r *Reader) checkLayout(nonCart bool) error {
	data, err := store.Open(r.DataFile)
	if err != nil {
		return err
	}
	defer data.Close()
	masks, err := store.Open(r.MasksFile)
	if err != nil {
		return err
	}
	defer masks.Close()

	imgs, err := data.Meta(imgsName)
	if err != nil {
		return err
	}
	maps, err := data.Meta(mapsName)
	if err != nil {
		return err
	}
	if imgs.Shape.Rank() < 3 {
		return &ndarray.ShapeMismatchError{Op: fmt.Sprintf("%s in %s", imgsName, data.Path()), Want: ndarray.Shape{-1, -1, -1}, Got: imgs.Shape}
	}
	n := imgs.Shape[0]
	spatial := imgs.Shape[imgs.Shape.Rank()-2:]
	mismatch := func(f *store.File, name string, want, got ndarray.Shape) error {
		return &ndarray.ShapeMismatchError{Op: fmt.Sprintf("%s in %s", name, f.Path()), Want: want, Got: got}
	}
	// leading checks the sample axis and, when withSpatial is set, the
	// trailing (Nx, Ny) of a dataset.
	leading := func(f *store.File, name string, m store.Meta, withSpatial bool) error {
		if m.Shape[0] != n {
			return mismatch(f, name, ndarray.Shape{n}, m.Shape)
		}
		if !withSpatial {
			return nil
		}
		rank := m.Shape.Rank()
		if rank < 3 || !m.Shape[rank-2:].Equal(spatial) {
			return mismatch(f, name, append(ndarray.Shape{n, -1}, spatial...), m.Shape)
		}
		return nil
	}

	if err := leading(data, mapsName, maps, true); err != nil {
		return err
	}
	if ir := imgs.Shape.Rank(); maps.Shape.Rank() != ir+1 {
		want := append(imgs.Shape[:ir-2].Clone(), -1, spatial[0], spatial[1])
		return mismatch(data, mapsName, want, maps.Shape)
	}
	if data.Has(kspName) {
		ksp, err := data.Meta(kspName)
		if err != nil {
			return err
		}
		if !ksp.Shape.Equal(maps.Shape) {
			return mismatch(data, kspName, maps.Shape, ksp.Shape)
		}
	}

	if masks.Has(masksName) {
		m, err := masks.Meta(masksName)
		if err != nil {
			return err
		}
		if err := leading(masks, masksName, m, !nonCart); err != nil {
			return err
		}
	}
	if masks.Has(lossMasksName) {
		m, err := masks.Meta(lossMasksName)
		if err != nil {
			return err
		}
		if err := leading(masks, lossMasksName, m, false); err != nil {
			return err
		}
		if !m.Shape[1:].Equal(imgs.Shape[1:]) {
			return mismatch(masks, lossMasksName, imgs.Shape, m.Shape)
		}
	}
	if masks.Has(noiseName) {
		m, err := masks.Meta(noiseName)
		if err != nil {
			return err
		}
		if err := leading(masks, noiseName, m, false); err != nil {
			return err
		}
		// non-Cartesian noise is [N, ..., C, M]: maps without (Nx, Ny) plus
		// the trajectory length
		mr := maps.Shape.Rank()
		switch {
		case !nonCart && !m.Shape.Equal(maps.Shape):
			return mismatch(masks, noiseName, maps.Shape, m.Shape)
		case nonCart && (m.Shape.Rank() != mr-1 || !m.Shape[:mr-2].Equal(maps.Shape[:mr-2])):
			return mismatch(masks, noiseName, append(maps.Shape[:mr-2].Clone(), -1), m.Shape)
		}
	}
	return nil
}
