package preview

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/mcmri/datasets"
	"github.com/Noofbiz/mcmri/ndarray"
)

func TestMagnitudesCombineLeadingAxes(t *testing.T) {
	a := ndarray.New[complex128](2, 2, 3)
	a.Data[0] = complex(3, 0)
	a.Data[6] = complex(0, 4)
	a.Data[5] = -2

	g, err := magnitudes(a)
	require.NoError(t, err)
	c, r := g.Dims()
	assert.Equal(t, 3, c)
	assert.Equal(t, 2, r)
	assert.InDelta(t, 5, g.Z(0, 0), 1e-12)
	assert.InDelta(t, 2, g.Z(2, 1), 1e-12)
	assert.Equal(t, 0.0, g.Z(1, 0))

	_, err = magnitudes(ndarray.New[float32](4))
	var sme *ndarray.ShapeMismatchError
	require.ErrorAs(t, err, &sme)
}

func TestMagnitudeWritesPNG(t *testing.T) {
	img := ndarray.New[float64](16, 12)
	for i := range img.Data {
		img.Data[i] = math.Sin(float64(i))
	}
	path := filepath.Join(t.TempDir(), "nested", "img.png")
	require.NoError(t, Magnitude(img, path, "test"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSampleWritesEveryField(t *testing.T) {
	s := &datasets.Sample{
		Imgs:      ndarray.Full(complex64(complex(1, 1)), 8, 8),
		Maps:      ndarray.Ones[complex64](2, 8, 8),
		Masks:     ndarray.Ones[float32](8, 8),
		LossMasks: ndarray.Ones[float32](8, 8),
		Out:       ndarray.Ones[complex64](2, 8, 8),
	}
	dir := t.TempDir()
	paths, err := Sample(s, dir, "sample0")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "sample0_imgs.png"),
		filepath.Join(dir, "sample0_masks.png"),
		filepath.Join(dir, "sample0_out.png"),
	}, paths)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}
