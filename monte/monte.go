// Package monte runs Monte Carlo noise studies over simulated samples: the
// same stored sample is simulated many times with independent noise draws and
// the empirical SNR of each draw is reported.
package monte

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/mcmri/datasets"
	"github.com/Noofbiz/mcmri/forward"
	"github.com/Noofbiz/mcmri/logging"
	"github.com/Noofbiz/mcmri/ndarray"
)

// Result is the outcome of a single noise draw.
type Result struct {
	Draw int
	Seed int64
	// SNR is 20·log10(‖signal‖/‖noise‖) in dB, where signal is the noiseless
	// measurement and noise is the difference to the drawn one.
	SNR float64
	// NoiseNorm is ‖noise‖.
	NoiseNorm float64
}

// Summary aggregates the draws of a study.
type Summary struct {
	Index   int
	Results []Result
	// SignalNorm is the norm of the noiseless measurement.
	SignalNorm float64
	MeanSNR    float64
	StdSNR     float64
}

// Study simulates one sample Draws times. Each worker builds its own
// provider from Config, so stores are opened independently and no random
// source is shared.
type Study struct {
	Config datasets.Config
	Draws  int
	// Workers caps the worker pool; 0 means runtime.NumCPU().
	Workers int

	rng    *rand.Rand
	logger *slog.Logger
}

// NewStudy validates cfg and returns a study with a clock-seeded random source.
// The sample cache is turned off so every draw is simulated.
func NewStudy(cfg datasets.Config, draws int) (*Study, error) {
	if draws < 1 {
		return nil, fmt.Errorf("draws must be >= 1, got %d", draws)
	}
	cfg.CacheData = false
	cfg.ClearCache = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Study{
		Config: cfg,
		Draws:  draws,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logging.Discard(),
	}, nil
}

// SetRand replaces the source the per-draw seeds are taken from.
func (s *Study) SetRand(rng *rand.Rand) { s.rng = rng }

// SetLogger sets the progress logger.
func (s *Study) SetLogger(l *slog.Logger) {
	if l == nil {
		l = logging.Discard()
	}
	s.logger = l
}

// Run simulates sample idx Draws times and summarizes the SNR of the draws.
func (s *Study) Run(idx int) (*Summary, error) {
	if s == nil {
		return nil, errors.New("study is nil")
	}

	refCfg := s.Config
	refCfg.Forward.Stdev = 0
	ref, err := datasets.NewMultiChannelMRIDataset(refCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build reference dataset: %w", err)
	}
	_, refSample, err := ref.Example(idx)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate noiseless sample %d: %w", idx, err)
	}
	signal := refSample.Out
	signalNorm := norm(signal.Data)

	// Precompute independent seeds using the study RNG (serial access).
	seeds := make([]int64, s.Draws)
	for i := range seeds {
		seeds[i] = s.rng.Int63()
	}

	workerCount := s.Workers
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	workerCount = min(workerCount, s.Draws)

	results := make([]Result, s.Draws)
	jobs := make(chan int, s.Draws)
	for d := 0; d < s.Draws; d++ {
		jobs <- d
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			ds, err := datasets.NewMultiChannelMRIDataset(s.Config)
			if err != nil {
				fail(err)
				return
			}
			for d := range jobs {
				ds.SetRand(rand.New(rand.NewSource(seeds[d])))
				_, sample, err := ds.Example(idx)
				if err != nil {
					fail(fmt.Errorf("draw %d: %w", d, err))
					return
				}
				if !sample.Out.Shape.Equal(signal.Shape) {
					fail(&ndarray.ShapeMismatchError{Op: fmt.Sprintf("draw %d", d), Want: signal.Shape, Got: sample.Out.Shape})
					return
				}
				noise := make([]complex64, len(signal.Data))
				for i, v := range sample.Out.Data {
					noise[i] = v - signal.Data[i]
				}
				nn := norm(noise)
				results[d] = Result{Draw: d, Seed: seeds[d], SNR: snrDB(signalNorm, nn), NoiseNorm: nn}
				s.logger.Log(context.Background(), logging.LevelTrace, "noise draw", "idx", idx, "draw", d, "snr_db", results[d].SNR)
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	snrs := make([]float64, len(results))
	for i, r := range results {
		snrs[i] = r.SNR
	}
	// a noiseless draw has infinite SNR
	mean, std := math.Inf(1), 0.0
	if !math.IsInf(floats.Max(snrs), 1) {
		mean, std = stat.MeanStdDev(snrs, nil)
		if len(snrs) == 1 {
			std = 0
		}
	}
	s.logger.Info("noise study finished", "idx", idx, "draws", s.Draws, "mean_snr_db", mean, "std_snr_db", std)
	return &Summary{
		Index:      idx,
		Results:    results,
		SignalNorm: signalNorm,
		MeanSNR:    mean,
		StdSNR:     std,
	}, nil
}

// Calibrate simulates sample idx of cfg without noise and returns the
// standard deviation that puts its measurement at targetDB. Only multi-channel
// Cartesian k-space output can be calibrated: a coil-combined image or
// trajectory samples do not carry the noise on the sampling mask support.
func Calibrate(cfg datasets.Config, idx int, targetDB float64) (float64, error) {
	if cfg.Forward.AdjointData || cfg.Forward.NonCart {
		return 0, &forward.UnsupportedModeError{Mode: "snr calibration", Reason: "only Cartesian k-space output (adjoint_data=false, noncart=false) can be calibrated"}
	}
	cfg.Forward.Stdev = 0
	cfg.CacheData, cfg.ClearCache = false, false
	ds, err := datasets.NewMultiChannelMRIDataset(cfg)
	if err != nil {
		return 0, err
	}
	_, s, err := ds.Example(idx)
	if err != nil {
		return 0, fmt.Errorf("failed to simulate noiseless sample %d: %w", idx, err)
	}
	return StdevForSNR(ndarray.FromComplex64(s.Out), targetDB)
}

// StdevForSNR returns the noise standard deviation that gives a Cartesian
// k-space measurement the target SNR in dB. signal is the noiseless masked
// k-space; noise only lands on its non-zero support, which stands in for the
// sampling mask.
func StdevForSNR(signal ndarray.Complex, targetDB float64) (float64, error) {
	sampled := 0
	parts := make([]float64, 0, 2*len(signal.Data))
	for _, v := range signal.Data {
		if v != 0 {
			sampled++
			parts = append(parts, real(v), imag(v))
		}
	}
	if sampled == 0 {
		return 0, fmt.Errorf("signal is identically zero")
	}
	// each sampled element receives complex noise of variance stdev²
	return floats.Norm(parts, 2) / (math.Sqrt(float64(sampled)) * math.Pow(10, targetDB/20)), nil
}

func snrDB(signalNorm, noiseNorm float64) float64 {
	if noiseNorm == 0 {
		return math.Inf(1)
	}
	return 20 * math.Log10(signalNorm/noiseNorm)
}

func norm(x []complex64) float64 {
	parts := make([]float64, 0, 2*len(x))
	for _, v := range x {
		parts = append(parts, float64(real(v)), float64(imag(v)))
	}
	return floats.Norm(parts, 2)
}
