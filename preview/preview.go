// Package preview renders arrays from the simulator as heat map PNGs.
package preview

import (
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/mcmri/datasets"
	"github.com/Noofbiz/mcmri/ndarray"
)

// grid adapts an [nx, ny] magnitude image to plotter.GridXYZ. Columns run
// along y and rows along x.
type grid struct {
	nx, ny int
	z      []float64
}

func (g grid) Dims() (c, r int)   { return g.ny, g.nx }
func (g grid) Z(c, r int) float64 { return g.z[r*g.ny+c] }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

// magnitudes collapses every axis but the last two by root-sum-of-squares
// and returns the element magnitudes.
func magnitudes[T ndarray.Elem](a ndarray.Array[T]) (grid, error) {
	if a.Rank() < 2 {
		return grid{}, &ndarray.ShapeMismatchError{Op: "preview", Want: ndarray.Shape{-1, -1}, Got: a.Shape}
	}
	nx, ny := a.Shape[a.Rank()-2], a.Shape[a.Rank()-1]
	plane := nx * ny
	g := grid{nx: nx, ny: ny, z: make([]float64, plane)}
	for i, v := range a.Data {
		m := abs(v)
		g.z[i%plane] += m * m
	}
	for i, v := range g.z {
		g.z[i] = math.Sqrt(v)
	}
	return g, nil
}

func abs[T ndarray.Elem](v T) float64 {
	switch x := any(v).(type) {
	case float32:
		return math.Abs(float64(x))
	case float64:
		return math.Abs(x)
	case complex64:
		return cmplx.Abs(complex128(x))
	case complex128:
		return cmplx.Abs(x)
	}
	return 0
}

// Magnitude writes a heat map of |a| to path. Arrays of rank above two are
// combined by root-sum-of-squares over their leading axes first.
func Magnitude[T ndarray.Elem](a ndarray.Array[T], path, title string) error {
	g, err := magnitudes(a)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "y"
	p.Y.Label.Text = "x"

	hm := plotter.NewHeatMap(g, palette.Heat(256, 1))
	if hm.Max == hm.Min {
		// flat images such as fully sampled masks
		hm.Max = hm.Min + 1
	}
	p.Add(hm)
	p.X.Min, p.X.Max = -0.5, float64(g.ny)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(g.nx)-0.5

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	return nil
}

// Sample writes imgs, masks and out of s as <prefix>_<field>.png into dir
// and returns the written paths.
func Sample(s *datasets.Sample, dir, prefix string) ([]string, error) {
	var paths []string
	write := func(field string, fn func(path string) error) error {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, field))
		if err := fn(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}
	if err := write("imgs", func(path string) error { return Magnitude(s.Imgs, path, prefix+" imgs") }); err != nil {
		return nil, err
	}
	if s.Masks.Rank() >= 2 {
		if err := write("masks", func(path string) error { return Magnitude(s.Masks, path, prefix+" masks") }); err != nil {
			return nil, err
		}
	}
	if err := write("out", func(path string) error { return Magnitude(s.Out, path, prefix+" out") }); err != nil {
		return nil, err
	}
	return paths, nil
}
