// Package synth generates synthetic ground truth for the simulator: ellipse
// phantoms, smooth coil sensitivity maps, variable-density Cartesian masks and
// radial trajectories, and writes them out as a pair of stores.
package synth

import (
	"math"
	"math/cmplx"
	"math/rand"
	"sort"

	"github.com/Noofbiz/mcmri/ndarray"
)

type ellipse struct {
	intensity float64
	a, b      float64
	x0, y0    float64
	angle     float64
}

// a reduced Shepp-Logan set, contrast boosted so every feature is visible
var phantomEllipses = []ellipse{
	{1.0, 0.69, 0.92, 0, 0, 0},
	{-0.8, 0.6624, 0.874, 0, -0.0184, 0},
	{-0.2, 0.11, 0.31, 0.22, 0, -18},
	{-0.2, 0.16, 0.41, -0.22, 0, 18},
	{0.1, 0.21, 0.25, 0, 0.35, 0},
	{0.1, 0.046, 0.046, 0, 0.1, 0},
	{0.1, 0.046, 0.023, -0.08, -0.605, 0},
}

// Phantom returns an [nx, ny] ellipse phantom on the square [-1, 1]².
func Phantom(nx, ny int) ndarray.Complex {
	img := ndarray.New[complex128](nx, ny)
	for x := 0; x < nx; x++ {
		px := coord(x, nx)
		for y := 0; y < ny; y++ {
			py := coord(y, ny)
			var v float64
			for _, e := range phantomEllipses {
				th := e.angle * math.Pi / 180
				dx, dy := px-e.x0, py-e.y0
				u := dx*math.Cos(th) + dy*math.Sin(th)
				w := -dx*math.Sin(th) + dy*math.Cos(th)
				if (u*u)/(e.a*e.a)+(w*w)/(e.b*e.b) <= 1 {
					v += e.intensity
				}
			}
			img.Data[x*ny+y] = complex(v, 0)
		}
	}
	return img
}

func coord(i, n int) float64 {
	return 2*(float64(i)+0.5)/float64(n) - 1
}

// CoilMaps returns [nc, nx, ny] sensitivities of coils spread evenly on a ring
// around the field of view. Each coil has a Gaussian magnitude profile and a
// constant phase; maps are normalized so that sum_c |S_c|² = 1 everywhere.
func CoilMaps(nc, nx, ny int) ndarray.Complex {
	maps := ndarray.New[complex128](nc, nx, ny)
	plane := nx * ny
	const radius, width = 1.5, 1.2
	for c := 0; c < nc; c++ {
		phi := 2 * math.Pi * float64(c) / float64(nc)
		cx, cy := radius*math.Cos(phi), radius*math.Sin(phi)
		phase := cmplx.Exp(complex(0, phi))
		for x := 0; x < nx; x++ {
			px := coord(x, nx)
			for y := 0; y < ny; y++ {
				py := coord(y, ny)
				d2 := (px-cx)*(px-cx) + (py-cy)*(py-cy)
				maps.Data[c*plane+x*ny+y] = complex(math.Exp(-d2/(2*width*width)), 0) * phase
			}
		}
	}
	for p := 0; p < plane; p++ {
		var ss float64
		for c := 0; c < nc; c++ {
			v := maps.Data[c*plane+p]
			ss += real(v)*real(v) + imag(v)*imag(v)
		}
		norm := complex(1/math.Sqrt(ss), 0)
		for c := 0; c < nc; c++ {
			maps.Data[c*plane+p] *= norm
		}
	}
	return maps
}

// VariableDensityMask returns an [nx, ny] Cartesian mask sampling whole
// phase-encode lines (rows). The center rows are always sampled; the rest are
// drawn with a density that decays away from the center until roughly
// nx/accel rows are kept.
func VariableDensityMask(rng *rand.Rand, nx, ny int, accel float64, center int) ndarray.Real {
	mask := ndarray.New[float64](nx, ny)
	if accel < 1 {
		accel = 1
	}
	target := int(math.Round(float64(nx) / accel))
	center = max(0, min(center, nx))
	if target < center {
		target = center
	}

	chosen := make([]bool, nx)
	lo := nx/2 - center/2
	for x := lo; x < lo+center; x++ {
		chosen[x] = true
	}

	// weighted sampling without replacement through exponential keys
	type keyed struct {
		row int
		key float64
	}
	var rest []keyed
	for x := 0; x < nx; x++ {
		if chosen[x] {
			continue
		}
		d := math.Abs(float64(x-nx/2)) / float64(nx/2+1)
		w := math.Pow(1-d, 2) + 1e-3
		rest = append(rest, keyed{row: x, key: -math.Log(rng.Float64()+1e-300) / w})
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].key < rest[j].key })
	for i := 0; i < target-center && i < len(rest); i++ {
		chosen[rest[i].row] = true
	}

	for x, ok := range chosen {
		if !ok {
			continue
		}
		row := mask.Data[x*ny : (x+1)*ny]
		for y := range row {
			row[y] = 1
		}
	}
	return mask
}

// RadialTrajectory returns [spokes*readout, 2] k-space coordinates in cycles
// per pixel, normalized to [-0.5, 0.5), with spokes evenly spaced over π.
func RadialTrajectory(spokes, readout int) ndarray.Real {
	traj := ndarray.New[float64](spokes*readout, 2)
	for s := 0; s < spokes; s++ {
		theta := math.Pi * float64(s) / float64(spokes)
		ct, st := math.Cos(theta), math.Sin(theta)
		for r := 0; r < readout; r++ {
			kr := (float64(r) - float64(readout)/2) / float64(readout)
			i := s*readout + r
			traj.Data[2*i] = kr * ct
			traj.Data[2*i+1] = kr * st
		}
	}
	return traj
}
