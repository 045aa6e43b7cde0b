// Package cfft implements the centered, unitary 2-D Fourier transforms used to
// move between image space and Cartesian k-space, together with the
// checkerboard frequency-shift modulation that aligns FFT phase conventions.
//
// All transforms act on the last two axes of an array; every leading axis
// (samples, coils) is treated as a batch.
package cfft

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/Noofbiz/mcmri/ndarray"
)

// FFT2C returns the centered unitary forward transform of a over its last two
// axes: fftshift(fft2(ifftshift(a))) / sqrt(Nx*Ny).
func FFT2C(a ndarray.Complex) (ndarray.Complex, error) {
	return transform2(a, false)
}

// IFFT2C returns the centered unitary inverse transform of a over its last two
// axes. It is the exact inverse of FFT2C.
func IFFT2C(a ndarray.Complex) (ndarray.Complex, error) {
	return transform2(a, true)
}

func transform2(a ndarray.Complex, inverse bool) (ndarray.Complex, error) {
	r := a.Rank()
	if r < 2 {
		return ndarray.Complex{}, fmt.Errorf("2-D transform needs rank >= 2, got shape %v", a.Shape)
	}
	nx, ny := a.Shape[r-2], a.Shape[r-1]
	out := a.Clone()
	plane := nx * ny
	if plane == 0 {
		return out, nil
	}

	rowFFT := fourier.NewCmplxFFT(ny)
	colFFT := fourier.NewCmplxFFT(nx)
	rowBuf := make([]complex128, ny)
	colIn := make([]complex128, nx)
	colOut := make([]complex128, nx)
	tmp := make([]complex128, plane)
	scale := complex(1/math.Sqrt(float64(plane)), 0)

	for off := 0; off < len(out.Data); off += plane {
		p := out.Data[off : off+plane]

		roll2(tmp, p, nx, ny, -(nx / 2), -(ny / 2))

		for x := 0; x < nx; x++ {
			seq := tmp[x*ny : (x+1)*ny]
			if inverse {
				rowFFT.Sequence(rowBuf, seq)
			} else {
				rowFFT.Coefficients(rowBuf, seq)
			}
			copy(seq, rowBuf)
		}
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				colIn[x] = tmp[x*ny+y]
			}
			if inverse {
				colFFT.Sequence(colOut, colIn)
			} else {
				colFFT.Coefficients(colOut, colIn)
			}
			for x := 0; x < nx; x++ {
				tmp[x*ny+y] = colOut[x]
			}
		}

		roll2(p, tmp, nx, ny, nx/2, ny/2)
		for i := range p {
			p[i] *= scale
		}
	}
	return out, nil
}

// roll2 writes src circularly shifted by (sx, sy) into dst.
func roll2(dst, src []complex128, nx, ny, sx, sy int) {
	for x := 0; x < nx; x++ {
		dx := mod(x+sx, nx)
		for y := 0; y < ny; y++ {
			dst[dx*ny+mod(y+sy, ny)] = src[x*ny+y]
		}
	}
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// FFTMod applies the checkerboard modulation (-1)^(x+y+1) over the last two
// axes and returns the result as a new array. Applying it twice is the
// identity.
func FFTMod[T ndarray.Elem](a ndarray.Array[T]) ndarray.Array[T] {
	out := a.Clone()
	r := a.Rank()
	if r < 2 {
		return out
	}
	nx, ny := a.Shape[r-2], a.Shape[r-1]
	plane := nx * ny
	if plane == 0 {
		return out
	}
	for off := 0; off < len(out.Data); off += plane {
		for x := 0; x < nx; x++ {
			row := out.Data[off+x*ny : off+(x+1)*ny]
			for y := range row {
				// sign is -1 when x+y is even
				if (x+y)%2 == 0 {
					row[y] = -row[y]
				}
			}
		}
	}
	return out
}
