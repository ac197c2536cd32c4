package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExperiment(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exp.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadExperiment(t *testing.T) {
	path := writeExperiment(t, `
variant = "psld"
prompt = "a photograph of a dog"
steps = 100
guidance = 4.0
seed = 42
output_dir = "out"

[[measurements]]
input = "blurry.png"
[measurements.operator]
kind = "blur"
kernel_size = 9
sigma = 3.0

[[measurements]]
input = "low.png"
[measurements.operator]
kind = "sr"
factor = 4
`)

	exp, err := LoadExperiment(path)
	require.NoError(t, err)

	assert.Equal(t, "psld", exp.Variant)
	assert.Equal(t, 100, exp.Steps)
	assert.Equal(t, uint64(42), exp.Seed)
	require.Len(t, exp.Measurements, 2)
	assert.Equal(t, "blur", exp.Measurements[0].Operator.Kind)
	assert.Equal(t, 4, exp.Measurements[1].Operator.Factor)
}

func TestLoadExperimentDefaults(t *testing.T) {
	path := writeExperiment(t, `
[[measurements]]
input = "y.png"
`)

	exp, err := LoadExperiment(path)
	require.NoError(t, err)
	assert.Equal(t, "treg", exp.Variant)
	assert.Equal(t, ".", exp.OutputDir)
}

func TestLoadExperimentRejectsEmpty(t *testing.T) {
	path := writeExperiment(t, `variant = "ddim"`)
	_, err := LoadExperiment(path)
	assert.Error(t, err)
}

func TestLoadExperimentBadTOML(t *testing.T) {
	path := writeExperiment(t, `variant = [unclosed`)
	_, err := LoadExperiment(path)
	assert.Error(t, err)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "blurry", stem("inputs/blurry.png"))
	assert.Equal(t, "y", stem("y.jpg"))
}
