package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/mcmri/forward"
	"github.com/Noofbiz/mcmri/ndarray"
	"github.com/Noofbiz/mcmri/store"
)

// writeConfig writes a configuration pointing every path into a temp dir.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := `seed: 7
workers: 2
output_dir: ` + filepath.Join(dir, "out") + `
logging:
  level: warn
dataset:
  data_file: ` + filepath.Join(dir, "train.db") + `
  masks_file: ` + filepath.Join(dir, "train_masks.db") + `
  cache_dir: ` + filepath.Join(dir, "cache") + `
` + extra
	path := filepath.Join(dir, "mcmri.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return dir, path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func generate(t *testing.T, cfgPath string) {
	t.Helper()
	_, err := run(t, "--config", cfgPath, "generate", "--samples", "3", "--coils", "2", "--size", "16")
	require.NoError(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestGenerateAndInspect(t *testing.T) {
	dir, cfgPath := writeConfig(t, "")
	generate(t, cfgPath)

	out, err := run(t, "--config", cfgPath, "--json", "inspect")
	require.NoError(t, err)
	var infos []datasetInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))

	byName := map[string]store.Meta{}
	for _, info := range infos {
		byName[info.Name] = info.Meta
	}
	assert.Equal(t, ndarray.Shape{3, 16, 16}, byName["imgs"].Shape)
	assert.Equal(t, ndarray.Shape{3, 2, 16, 16}, byName["maps"].Shape)
	assert.Equal(t, store.Complex64, byName["ksp"].DType)
	assert.Equal(t, store.Float32, byName["masks"].DType)
	assert.Contains(t, byName, "loss_masks")

	out, err = run(t, "--config", cfgPath, "inspect", filepath.Join(dir, "train.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "DATASET")
	assert.Contains(t, out, "maps")
	assert.NotContains(t, out, "loss_masks")
}

func TestSimulateWritesCollatedStore(t *testing.T) {
	dir, cfgPath := writeConfig(t, "  stdev: 0.05\n  adjoint_data: true\n")
	generate(t, cfgPath)

	_, err := run(t, "--config", cfgPath, "simulate")
	require.NoError(t, err)

	f, err := store.Open(filepath.Join(dir, "out", "simulated.db"))
	require.NoError(t, err)
	defer f.Close()
	out, err := f.Meta("out")
	require.NoError(t, err)
	// adjoint data is coil combined
	assert.Equal(t, ndarray.Shape{3, 16, 16}, out.Shape)
	maps, err := f.Meta("maps")
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{3, 2, 16, 16}, maps.Shape)
}

func TestSimulateIsDeterministicForSeed(t *testing.T) {
	dir, cfgPath := writeConfig(t, "  stdev: 0.05\n")
	generate(t, cfgPath)

	read := func(name string) ndarray.Complex {
		_, err := run(t, "--config", cfgPath, "simulate", "--out", filepath.Join(dir, name))
		require.NoError(t, err)
		f, err := store.Open(filepath.Join(dir, name))
		require.NoError(t, err)
		defer f.Close()
		a, err := f.ReadAllComplex("out")
		require.NoError(t, err)
		return a
	}
	assert.Equal(t, read("a.db").Data, read("b.db").Data)
}

func TestSimulateWithCache(t *testing.T) {
	dir, cfgPath := writeConfig(t, "")
	generate(t, cfgPath)

	_, err := run(t, "--config", cfgPath, "simulate", "--cache")
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPreview(t *testing.T) {
	dir, cfgPath := writeConfig(t, "")
	generate(t, cfgPath)

	out, err := run(t, "--config", cfgPath, "preview", "--index", "1")
	require.NoError(t, err)
	for _, field := range []string{"imgs", "masks", "out"} {
		p := filepath.Join(dir, "out", "sample_1_"+field+".png")
		assert.Contains(t, out, p)
		assert.FileExists(t, p)
	}
}

func TestSNR(t *testing.T) {
	_, cfgPath := writeConfig(t, "")
	generate(t, cfgPath)

	out, err := run(t, "--config", cfgPath, "--json", "snr", "--index", "0", "--draws", "2")
	require.NoError(t, err)
	var noiseless studyJSON
	require.NoError(t, json.Unmarshal([]byte(out), &noiseless))
	assert.Nil(t, noiseless.MeanSNR)
	assert.Len(t, noiseless.Draws, 2)

	out, err = run(t, "--config", cfgPath, "--json", "snr", "--draws", "16", "--target-db", "15")
	require.NoError(t, err)
	var calibrated studyJSON
	require.NoError(t, json.Unmarshal([]byte(out), &calibrated))
	require.NotNil(t, calibrated.MeanSNR)
	assert.InDelta(t, 15, *calibrated.MeanSNR, 1)
	assert.Greater(t, calibrated.Stdev, 0.0)
}

func TestSNRTargetNeedsKSpaceOutput(t *testing.T) {
	_, cfgPath := writeConfig(t, "  adjoint_data: true\n")
	generate(t, cfgPath)

	_, err := run(t, "--config", cfgPath, "snr", "--draws", "2", "--target-db", "20")
	var ume *forward.UnsupportedModeError
	require.ErrorAs(t, err, &ume)

	// without a target the study still runs on coil-combined output
	_, err = run(t, "--config", cfgPath, "snr", "--draws", "2")
	require.NoError(t, err)
}

func TestInvalidConfig(t *testing.T) {
	_, cfgPath := writeConfig(t, "")
	_, err := run(t, "--config", cfgPath, "--log-level", "loud", "inspect")
	require.Error(t, err)

	_, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "inspect")
	require.Error(t, err)
}
