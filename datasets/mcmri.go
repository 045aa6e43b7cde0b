package datasets

import (
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/mcmri/forward"
	"github.com/Noofbiz/mcmri/logging"
	"github.com/Noofbiz/mcmri/ndarray"
	"github.com/Noofbiz/mcmri/store"
)

// scalePercentile is the magnitude quantile imgs are normalized by.
const scalePercentile = 0.99

// MultiChannelMRIDataset turns stored ground truth into simulated
// multi-channel MRI training samples.
//
// Each Example call opens both stores, reads one sample, runs the forward
// model and returns imgs, maps, masks, loss_masks and the simulated
// measurement out. Stored data is never modified.
//
// A dataset is not safe for concurrent use. Build one per worker, each with
// its own random source.
type MultiChannelMRIDataset struct {
	cfg    Config
	reader *Reader
	op     *forward.Operator
	logger *slog.Logger

	available int
	length    int
}

var _ Dataset = (*MultiChannelMRIDataset)(nil)

// NewMultiChannelMRIDataset validates cfg against the stores and builds a
// dataset. Noise is drawn from a clock-seeded source until SetRand is called.
func NewMultiChannelMRIDataset(cfg Config) (*MultiChannelMRIDataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	op, err := forward.New(cfg.Forward, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return nil, err
	}
	d := &MultiChannelMRIDataset{
		cfg:    cfg,
		reader: NewReader(cfg.DataFile, cfg.MasksFile),
		op:     op,
		logger: logging.Discard(),
	}

	if err := d.reader.checkLayout(cfg.Forward.NonCart); err != nil {
		return nil, fmt.Errorf("failed to validate stores: %w", err)
	}
	d.available, err = d.reader.Available()
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.DataIdx != nil:
		if *cfg.DataIdx < 0 || *cfg.DataIdx >= d.available {
			return nil, &store.IndexOutOfRangeError{Index: *cfg.DataIdx, Len: d.available}
		}
		d.length = 1
	case cfg.NumDataSets > 0:
		d.length = min(cfg.NumDataSets, d.available)
	default:
		d.length = d.available
	}

	if cfg.CacheData && cfg.ClearCache {
		if err := d.clearCache(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SetRand replaces the source generated noise is drawn from.
func (d *MultiChannelMRIDataset) SetRand(rng *rand.Rand) {
	// the configuration was validated in the constructor
	d.op, _ = forward.New(d.cfg.Forward, rng)
}

// SetLogger sets the logger used for per-sample debug output.
func (d *MultiChannelMRIDataset) SetLogger(l *slog.Logger) {
	if l == nil {
		l = logging.Discard()
	}
	d.logger = l
}

// Config returns the dataset configuration.
func (d *MultiChannelMRIDataset) Config() Config { return d.cfg }

// Name returns the name of the dataset.
func (d *MultiChannelMRIDataset) Name() string {
	return "MultiChannelMRIDataset(" + filepath.Base(d.cfg.DataFile) + ")"
}

// Len returns the number of samples the dataset serves.
func (d *MultiChannelMRIDataset) Len() int { return d.length }

// Available returns the number of samples in the image store.
func (d *MultiChannelMRIDataset) Available() int { return d.available }

// Example simulates sample idx. With DataIdx set the argument is ignored and
// the pinned sample is returned, still tagged with idx.
func (d *MultiChannelMRIDataset) Example(idx int) (int, *Sample, error) {
	i := idx
	if d.cfg.DataIdx != nil {
		i = *d.cfg.DataIdx
	} else if idx < 0 || idx >= d.length {
		return idx, nil, &store.IndexOutOfRangeError{Index: idx, Len: d.length}
	}

	var (
		s   *simulated
		err error
	)
	if d.cfg.CacheData {
		s, err = d.cached(i)
	} else {
		s, err = d.simulate(i)
	}
	if err != nil {
		return idx, nil, fmt.Errorf("failed to simulate sample %d: %w", i, err)
	}

	if s.imgs.Len() == 1 {
		if err := s.squeeze(); err != nil {
			return idx, nil, err
		}
	}
	d.logger.Debug("simulated sample", "idx", i, "out", s.out.Shape.String(), "masks", s.masks.Shape.String())
	return idx, s.sample(), nil
}

// Batch simulates the samples at indices in order.
func (d *MultiChannelMRIDataset) Batch(indices []int) ([]*Sample, error) {
	out := make([]*Sample, 0, len(indices))
	for _, idx := range indices {
		_, s, err := d.Example(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// simulated holds a sample before squeezing and coercion.
type simulated struct {
	imgs      ndarray.Complex
	maps      ndarray.Complex
	masks     ndarray.Real
	lossMasks ndarray.Real
	out       ndarray.Complex
}

func (d *MultiChannelMRIDataset) simulate(i int) (*simulated, error) {
	var (
		raw *RawSample
		err error
	)
	if d.cfg.Forward.InverseCrime {
		raw, err = d.reader.LoadData(i)
	} else {
		raw, err = d.reader.LoadDataKsp(i)
	}
	if err != nil {
		return nil, err
	}

	if d.cfg.ScaleData {
		if err := scale(raw); err != nil {
			return nil, err
		}
	}
	if d.cfg.FullySampled {
		raw.Masks = ndarray.Ones[float64](raw.Masks.Shape...)
	}

	out, err := d.op.Simulate(forward.Input{
		Imgs:  raw.Imgs,
		Maps:  raw.Maps,
		Masks: raw.Masks,
		Noise: raw.Noise,
		Ksp:   raw.Ksp,
	})
	if err != nil {
		return nil, err
	}
	return &simulated{
		imgs:      raw.Imgs,
		maps:      d.op.ModulateMaps(raw.Maps),
		masks:     raw.Masks,
		lossMasks: raw.LossMasks,
		out:       out,
	}, nil
}

// scale divides imgs and ksp by the 99th percentile magnitude of imgs.
func scale(raw *RawSample) error {
	if raw.Imgs.Len() != 1 {
		return &forward.UnsupportedModeError{Mode: "scale_data", Reason: fmt.Sprintf("samples with a batch dimension of %d cannot be scaled", raw.Imgs.Len())}
	}
	mags := ndarray.Abs(raw.Imgs).Data
	sort.Float64s(mags)
	q := stat.Quantile(scalePercentile, stat.LinInterp, mags, nil)
	if q == 0 {
		return nil
	}
	ndarray.Scale(raw.Imgs, complex(1/q, 0))
	if raw.Ksp != nil {
		ndarray.Scale(*raw.Ksp, complex(1/q, 0))
	}
	return nil
}

func (s *simulated) squeeze() error {
	var err error
	if s.imgs, err = s.imgs.Squeeze(); err != nil {
		return err
	}
	if s.maps, err = s.maps.Squeeze(); err != nil {
		return err
	}
	if s.masks, err = s.masks.Squeeze(); err != nil {
		return err
	}
	if s.lossMasks, err = s.lossMasks.Squeeze(); err != nil {
		return err
	}
	s.out, err = s.out.Squeeze()
	return err
}

func (s *simulated) sample() *Sample {
	return &Sample{
		Imgs:      ndarray.ToComplex64(s.imgs),
		Maps:      ndarray.ToComplex64(s.maps),
		Masks:     ndarray.ToFloat32(s.masks),
		LossMasks: ndarray.ToFloat32(s.lossMasks),
		Out:       ndarray.ToComplex64(s.out),
	}
}
