package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldmsolve/ldmsolve/ml/mltest"
)

func testComponents() Components {
	return Components{
		Noise: &mltest.LinearNoise{A: 0.2},
		Codec: &mltest.GainCodec{Gain: 1},
		Text:  &mltest.StaticTextEncoder{ContextLen: 8, Width: 4},
		Image: &mltest.MeanImageEmbedder{Width: 4},
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ddim", NewDDIM))
	err := r.Register("ddim", NewDDIM)
	assert.ErrorIs(t, err, ErrRegistered)
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("nope", Config{}, testComponents())
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestRegistriesIndependent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	require.NoError(t, a.Register("ddim", NewDDIM))
	_, err := b.New("ddim", Config{}, testComponents())
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestDefaultRegistryVariants(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"ddim", "p2l", "psld", "treg"}, r.Names())

	s, err := r.New("ddim", Config{}, testComponents())
	require.NoError(t, err)
	assert.Equal(t, "ddim", s.Name())
}
