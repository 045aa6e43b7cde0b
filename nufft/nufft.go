// Package nufft provides the non-uniform Fourier operator used for
// non-Cartesian acquisitions.
//
// The operator is an exact type-2 non-uniform DFT: for every trajectory point
// k = (kx, ky), given in cycles per pixel and normalized to [-0.5, 0.5], it
// evaluates
//
//	F(k) = 1/sqrt(Nx*Ny) * sum_{x,y} img[x,y] * exp(-2πi (kx (x-Nx/2) + ky (y-Ny/2)))
//
// which agrees with the centered unitary FFT on Cartesian grid points. The
// cost is O(M·Nx·Ny) per coil, fine for simulation-sized images.
package nufft

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/Noofbiz/mcmri/ndarray"
)

// Operator evaluates the forward and adjoint non-uniform DFT for one
// trajectory, spatial shape and coil count.
type Operator struct {
	nx, ny int
	coils  int
	m      int

	// separable phase factors, ex[m*nx+x] and ey[m*ny+y]
	ex []complex128
	ey []complex128
}

// New builds an operator for a [M, 2] trajectory. coils may be 0 when the
// inputs carry no coil axis.
func New(traj ndarray.Real, nx, ny, coils int) (*Operator, error) {
	if traj.Rank() != 2 || traj.Shape[1] != 2 {
		return nil, &ndarray.ShapeMismatchError{Op: "nufft trajectory", Want: ndarray.Shape{-1, 2}, Got: traj.Shape}
	}
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid image shape %dx%d", nx, ny)
	}
	m := traj.Shape[0]
	o := &Operator{
		nx:    nx,
		ny:    ny,
		coils: coils,
		m:     m,
		ex:    make([]complex128, m*nx),
		ey:    make([]complex128, m*ny),
	}
	cx, cy := float64(nx/2), float64(ny/2)
	for i := 0; i < m; i++ {
		kx, ky := traj.Data[2*i], traj.Data[2*i+1]
		if math.IsNaN(kx) || math.IsNaN(ky) || math.Abs(kx) > 0.5 || math.Abs(ky) > 0.5 {
			return nil, fmt.Errorf("trajectory point %d (%g, %g) outside [-0.5, 0.5]", i, kx, ky)
		}
		for x := 0; x < nx; x++ {
			o.ex[i*nx+x] = cmplx.Exp(complex(0, -2*math.Pi*kx*(float64(x)-cx)))
		}
		for y := 0; y < ny; y++ {
			o.ey[i*ny+y] = cmplx.Exp(complex(0, -2*math.Pi*ky*(float64(y)-cy)))
		}
	}
	return o, nil
}

// Samples returns the number of trajectory points M.
func (o *Operator) Samples() int { return o.m }

func (o *Operator) checkImage(img ndarray.Complex) error {
	r := img.Rank()
	if r < 2 || img.Shape[r-2] != o.nx || img.Shape[r-1] != o.ny {
		return &ndarray.ShapeMismatchError{Op: "nufft image", Want: ndarray.Shape{o.nx, o.ny}, Got: img.Shape}
	}
	if o.coils > 0 && (r < 3 || img.Shape[r-3] != o.coils) {
		return &ndarray.ShapeMismatchError{Op: "nufft coils", Want: ndarray.Shape{o.coils, o.nx, o.ny}, Got: img.Shape}
	}
	return nil
}

// Op maps images [..., Nx, Ny] to samples [..., M].
func (o *Operator) Op(img ndarray.Complex) (ndarray.Complex, error) {
	if err := o.checkImage(img); err != nil {
		return ndarray.Complex{}, err
	}
	r := img.Rank()
	outShape := append(img.Shape[:r-2].Clone(), o.m)
	out := ndarray.New[complex128](outShape...)
	plane := o.nx * o.ny
	scale := complex(1/math.Sqrt(float64(plane)), 0)
	inner := make([]complex128, o.nx)

	for p := 0; p*plane < len(img.Data); p++ {
		src := img.Data[p*plane : (p+1)*plane]
		dst := out.Data[p*o.m : (p+1)*o.m]
		for i := 0; i < o.m; i++ {
			ey := o.ey[i*o.ny : (i+1)*o.ny]
			for x := 0; x < o.nx; x++ {
				var acc complex128
				row := src[x*o.ny : (x+1)*o.ny]
				for y, v := range row {
					acc += v * ey[y]
				}
				inner[x] = acc
			}
			var acc complex128
			ex := o.ex[i*o.nx : (i+1)*o.nx]
			for x, v := range inner {
				acc += v * ex[x]
			}
			dst[i] = acc * scale
		}
	}
	return out, nil
}

// Adjoint maps samples [..., M] back to images [..., Nx, Ny]. No density
// compensation is applied.
func (o *Operator) Adjoint(ksp ndarray.Complex) (ndarray.Complex, error) {
	r := ksp.Rank()
	if r < 1 || ksp.Shape[r-1] != o.m {
		return ndarray.Complex{}, &ndarray.ShapeMismatchError{Op: "nufft samples", Want: ndarray.Shape{o.m}, Got: ksp.Shape}
	}
	if o.coils > 0 && (r < 2 || ksp.Shape[r-2] != o.coils) {
		return ndarray.Complex{}, &ndarray.ShapeMismatchError{Op: "nufft coils", Want: ndarray.Shape{o.coils, o.m}, Got: ksp.Shape}
	}
	outShape := append(ksp.Shape[:r-1].Clone(), o.nx, o.ny)
	out := ndarray.New[complex128](outShape...)
	plane := o.nx * o.ny
	scale := complex(1/math.Sqrt(float64(plane)), 0)

	for p := 0; p*o.m < len(ksp.Data); p++ {
		src := ksp.Data[p*o.m : (p+1)*o.m]
		dst := out.Data[p*plane : (p+1)*plane]
		for i, v := range src {
			ex := o.ex[i*o.nx : (i+1)*o.nx]
			ey := o.ey[i*o.ny : (i+1)*o.ny]
			for x := 0; x < o.nx; x++ {
				vx := v * cmplx.Conj(ex[x])
				row := dst[x*o.ny : (x+1)*o.ny]
				for y := range row {
					row[y] += vx * cmplx.Conj(ey[y])
				}
			}
		}
		for i := range dst {
			dst[i] *= scale
		}
	}
	return out, nil
}
