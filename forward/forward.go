// Package forward simulates multi-channel MRI measurements from ground truth.
//
// Three acquisition paths are supported:
//
//   - Cartesian, inverse crime: out = mask ⊙ (fft2uc(img ⊙ maps) + σ/√2 · noise)
//   - Cartesian, measured:      out = mask ⊙ (ksp + σ/√2 · noise)
//   - Non-Cartesian:            out = NUFFT_traj(ifft2uc(ksp)) + σ/√2 · noise
//
// The inverse-crime shortcut cannot be combined with non-Cartesian sampling.
package forward

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"time"

	"github.com/Noofbiz/mcmri/cfft"
	"github.com/Noofbiz/mcmri/ndarray"
	"github.com/Noofbiz/mcmri/nufft"
)

// Config selects the acquisition model. It is fixed once an Operator is built.
type Config struct {
	// Stdev is the standard deviation of the complex noise; it is split
	// equally between the real and imaginary parts.
	Stdev float64 `yaml:"stdev"`

	// AdjointData coil-combines Cartesian output back into a single image.
	AdjointData bool `yaml:"adjoint_data"`

	// InverseCrime simulates k-space from the ground-truth image instead of
	// using acquired k-space.
	InverseCrime bool `yaml:"inverse_crime"`

	// NonCart treats the mask as a [M, 2] trajectory.
	NonCart bool `yaml:"noncart"`
}

// Validate checks the mode combination.
func (c Config) Validate() error {
	if c.NonCart && c.InverseCrime {
		return &UnsupportedModeError{Mode: "noncart+inverse_crime", Reason: "forward simulation of non-Cartesian data from images is not implemented"}
	}
	if c.Stdev < 0 || math.IsNaN(c.Stdev) {
		return fmt.Errorf("stdev must be >= 0, got %g", c.Stdev)
	}
	return nil
}

// Input holds the arrays of one batch of samples. Leading dimension N is the
// sample axis and must agree across every array.
type Input struct {
	// Imgs is [N, Nx, Ny].
	Imgs ndarray.Complex
	// Maps is [N, C, Nx, Ny].
	Maps ndarray.Complex
	// Masks is [N, Nx, Ny] (or [N, C, Nx, Ny]) for Cartesian data and
	// [N, M, 2] trajectories for non-Cartesian data.
	Masks ndarray.Real
	// Noise is optional precomputed noise shaped like the k-space being
	// simulated. When nil, complex Gaussian noise is drawn.
	Noise *ndarray.Complex
	// Ksp is the acquired k-space [N, C, Nx, Ny], required unless InverseCrime.
	Ksp *ndarray.Complex
}

// Operator runs the forward model. It is not safe for concurrent use because
// it owns its random source.
type Operator struct {
	cfg Config
	rng *rand.Rand
}

// New validates cfg and builds an Operator. A nil rng is replaced by one
// seeded from the clock so independent processes draw independent noise.
func New(cfg Config, rng *rand.Rand) (*Operator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Operator{cfg: cfg, rng: rng}, nil
}

// Config returns the operator's configuration.
func (o *Operator) Config() Config { return o.cfg }

// NoiseScale is the factor applied to unit complex Gaussian noise.
func (o *Operator) NoiseScale() float64 { return o.cfg.Stdev / math.Sqrt2 }

// GaussianNoise draws complex noise whose real and imaginary parts are
// independent standard normals.
func GaussianNoise(rng *rand.Rand, shape ...int) ndarray.Complex {
	n := ndarray.New[complex128](shape...)
	for i := range n.Data {
		n.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return n
}

// Simulate produces the measurement for in.
func (o *Operator) Simulate(in Input) (ndarray.Complex, error) {
	if err := checkInput(in); err != nil {
		return ndarray.Complex{}, err
	}
	if o.cfg.NonCart {
		return o.simulateNonCart(in)
	}
	return o.simulateCartesian(in)
}

func checkInput(in Input) error {
	if in.Imgs.Rank() != 3 {
		return &ndarray.ShapeMismatchError{Op: "imgs", Want: ndarray.Shape{-1, -1, -1}, Got: in.Imgs.Shape}
	}
	n, nx, ny := in.Imgs.Shape[0], in.Imgs.Shape[1], in.Imgs.Shape[2]
	if in.Maps.Rank() != 4 || in.Maps.Shape[0] != n || in.Maps.Shape[2] != nx || in.Maps.Shape[3] != ny {
		return &ndarray.ShapeMismatchError{Op: "maps", Want: ndarray.Shape{n, -1, nx, ny}, Got: in.Maps.Shape}
	}
	if in.Masks.Rank() == 0 || in.Masks.Shape[0] != n {
		return &ndarray.ShapeMismatchError{Op: "masks", Want: ndarray.Shape{n}, Got: in.Masks.Shape}
	}
	if in.Ksp != nil && !in.Ksp.Shape.Equal(in.Maps.Shape) {
		return &ndarray.ShapeMismatchError{Op: "ksp", Want: in.Maps.Shape, Got: in.Ksp.Shape}
	}
	return nil
}

func (o *Operator) noiseFor(in Input, shape ndarray.Shape) (ndarray.Complex, error) {
	if in.Noise == nil {
		return GaussianNoise(o.rng, shape...), nil
	}
	if !in.Noise.Shape.Equal(shape) {
		return ndarray.Complex{}, &ndarray.ShapeMismatchError{Op: "noise", Want: shape, Got: in.Noise.Shape}
	}
	return *in.Noise, nil
}

func (o *Operator) simulateCartesian(in Input) (ndarray.Complex, error) {
	noise, err := o.noiseFor(in, in.Maps.Shape)
	if err != nil {
		return ndarray.Complex{}, err
	}

	var ksp ndarray.Complex
	if o.cfg.InverseCrime {
		coilImgs := WeightByMaps(in.Imgs, in.Maps)
		ksp, err = cfft.FFT2C(coilImgs)
		if err != nil {
			return ndarray.Complex{}, err
		}
	} else {
		if in.Ksp == nil {
			return ndarray.Complex{}, fmt.Errorf("measured Cartesian simulation needs k-space")
		}
		ksp = in.Ksp.Clone()
	}

	scale := complex(o.NoiseScale(), 0)
	for i := range ksp.Data {
		ksp.Data[i] += scale * noise.Data[i]
	}
	if err := applyMask(ksp, in.Masks); err != nil {
		return ndarray.Complex{}, err
	}

	if !o.cfg.AdjointData {
		return cfft.FFTMod(ksp), nil
	}
	return CoilCombine(ksp, in.Maps)
}

func (o *Operator) simulateNonCart(in Input) (ndarray.Complex, error) {
	if in.Ksp == nil {
		return ndarray.Complex{}, fmt.Errorf("non-Cartesian simulation needs k-space")
	}
	if in.Masks.Rank() != 3 || in.Masks.Shape[2] != 2 {
		return ndarray.Complex{}, &ndarray.ShapeMismatchError{Op: "trajectory", Want: ndarray.Shape{in.Masks.Len(), -1, 2}, Got: in.Masks.Shape}
	}
	n, nc := in.Maps.Shape[0], in.Maps.Shape[1]
	nx, ny := in.Maps.Shape[2], in.Maps.Shape[3]

	perChannel, err := cfft.IFFT2C(*in.Ksp)
	if err != nil {
		return ndarray.Complex{}, err
	}

	rows := make([]ndarray.Complex, n)
	for i := 0; i < n; i++ {
		traj, err := in.Masks.Row(i)
		if err != nil {
			return ndarray.Complex{}, err
		}
		op, err := nufft.New(traj, nx, ny, nc)
		if err != nil {
			return ndarray.Complex{}, fmt.Errorf("failed to build non-uniform operator for sample %d: %w", i, err)
		}
		img, err := perChannel.Row(i)
		if err != nil {
			return ndarray.Complex{}, err
		}
		rows[i], err = op.Op(img)
		if err != nil {
			return ndarray.Complex{}, err
		}
	}
	// rows are [C, M], so out is always [N, C, M]
	out, err := ndarray.Stack(rows)
	if err != nil {
		return ndarray.Complex{}, err
	}

	noise, err := o.noiseFor(in, out.Shape)
	if err != nil {
		return ndarray.Complex{}, err
	}
	scale := complex(o.NoiseScale(), 0)
	for i := range out.Data {
		out.Data[i] += scale * noise.Data[i]
	}
	return out, nil
}

// WeightByMaps returns the coil images imgs[:, None] * maps. imgs is
// [N, Nx, Ny] and maps is [N, C, Nx, Ny].
func WeightByMaps(imgs, maps ndarray.Complex) ndarray.Complex {
	out := ndarray.New[complex128](maps.Shape...)
	nc := maps.Shape[1]
	plane := maps.Shape[2] * maps.Shape[3]
	for s := 0; s < maps.Shape[0]; s++ {
		img := imgs.Data[s*plane : (s+1)*plane]
		for c := 0; c < nc; c++ {
			off := (s*nc + c) * plane
			for p, v := range img {
				out.Data[off+p] = v * maps.Data[off+p]
			}
		}
	}
	return out
}

// applyMask multiplies ksp [N, C, Nx, Ny] in place by a mask that is either
// [N, Nx, Ny] (shared by every coil) or [N, C, Nx, Ny].
func applyMask(ksp ndarray.Complex, mask ndarray.Real) error {
	n, nc := ksp.Shape[0], ksp.Shape[1]
	plane := ksp.Shape[2] * ksp.Shape[3]
	switch {
	case mask.Shape.Equal(ksp.Shape):
		for i, m := range mask.Data {
			ksp.Data[i] *= complex(m, 0)
		}
	case mask.Shape.Equal(ndarray.Shape{n, ksp.Shape[2], ksp.Shape[3]}):
		for s := 0; s < n; s++ {
			m := mask.Data[s*plane : (s+1)*plane]
			for c := 0; c < nc; c++ {
				k := ksp.Data[(s*nc+c)*plane : (s*nc+c+1)*plane]
				for p := range k {
					k[p] *= complex(m[p], 0)
				}
			}
		}
	default:
		return &ndarray.ShapeMismatchError{Op: "mask", Want: ndarray.Shape{n, ksp.Shape[2], ksp.Shape[3]}, Got: mask.Shape}
	}
	return nil
}

// CoilCombine returns sum_c conj(maps) * ifft2uc(ksp), the adjoint of the
// SENSE forward model without the mask. ksp and maps are [N, C, Nx, Ny]; the
// result is [N, Nx, Ny].
func CoilCombine(ksp, maps ndarray.Complex) (ndarray.Complex, error) {
	if ksp.Rank() != 4 || !ksp.Shape.Equal(maps.Shape) {
		return ndarray.Complex{}, &ndarray.ShapeMismatchError{Op: "coil combine", Want: maps.Shape, Got: ksp.Shape}
	}
	coilImgs, err := cfft.IFFT2C(ksp)
	if err != nil {
		return ndarray.Complex{}, err
	}
	n, nc := maps.Shape[0], maps.Shape[1]
	plane := maps.Shape[2] * maps.Shape[3]
	out := ndarray.New[complex128](n, maps.Shape[2], maps.Shape[3])
	for s := 0; s < n; s++ {
		dst := out.Data[s*plane : (s+1)*plane]
		for c := 0; c < nc; c++ {
			off := (s*nc + c) * plane
			for p := range dst {
				dst[p] += cmplx.Conj(maps.Data[off+p]) * coilImgs.Data[off+p]
			}
		}
	}
	return out, nil
}

// ModulateMaps applies the frequency-shift modulation to coil maps handed to
// consumers of Cartesian data. Non-Cartesian maps are returned unchanged.
func (o *Operator) ModulateMaps(maps ndarray.Complex) ndarray.Complex {
	if o.cfg.NonCart {
		return maps
	}
	return cfft.FFTMod(maps)
}
