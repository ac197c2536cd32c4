package operator

import (
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldmsolve/ldmsolve/ml"
)

func randomImage(t *testing.T, seed uint64, shape ...int) *ml.Tensor {
	t.Helper()
	n := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	out := ml.New(shape...)
	for i := range out.Data {
		out.Data[i] = n.Rand()
	}
	return out
}

// adjoint identity <Ax, y> == <x, At y>
func checkAdjoint(t *testing.T, op ml.Operator, xShape, yShape []int) {
	t.Helper()
	x := randomImage(t, 1, xShape...)
	y := randomImage(t, 2, yShape...)

	lhs := ml.Dot(op.Apply(x), y)
	rhs := ml.Dot(x, op.Adjoint(y))
	assert.InDelta(t, lhs, rhs, 1e-9)
}

func TestIdentityAdjoint(t *testing.T) {
	shape := []int{1, 3, 8, 8}
	checkAdjoint(t, Identity{}, shape, shape)
}

func TestInpaintMasksAndSelfAdjoint(t *testing.T) {
	mask := ml.New(1, 1, 4, 4)
	for i := 0; i < 8; i++ {
		mask.Data[i] = 1 // top half kept
	}
	op, err := NewInpaint(mask)
	require.NoError(t, err)

	x := ml.Full(2.0, 1, 3, 4, 4)
	y := op.Apply(x)
	for c := 0; c < 3; c++ {
		for i := 0; i < 16; i++ {
			want := 0.0
			if i < 8 {
				want = 2.0
			}
			assert.Equal(t, want, y.Data[c*16+i])
		}
	}

	shape := []int{1, 3, 4, 4}
	checkAdjoint(t, op, shape, shape)
}

func TestInpaintRejectsBadMask(t *testing.T) {
	_, err := NewInpaint(ml.New(1, 3, 4, 4))
	assert.Error(t, err)
}

func TestSuperResolutionAveragesAndAdjoint(t *testing.T) {
	op, err := NewSuperResolution(2)
	require.NoError(t, err)

	x := ml.FromSlice([]float64{1, 3, 5, 7}, 1, 1, 2, 2)
	y := op.Apply(x)
	require.Equal(t, []int{1, 1, 1, 1}, y.Shape)
	assert.InDelta(t, 4.0, y.Data[0], 1e-12)

	checkAdjoint(t, op, []int{1, 3, 8, 8}, []int{1, 3, 4, 4})
}

func TestGaussianBlurNormalizedAndSelfAdjoint(t *testing.T) {
	op, err := NewGaussianBlur(5, 1.5)
	require.NoError(t, err)

	// a constant interior pixel stays constant under a normalized kernel
	x := ml.Full(1.0, 1, 1, 16, 16)
	y := op.Apply(x)
	assert.InDelta(t, 1.0, y.Data[8*16+8], 1e-12)

	shape := []int{1, 3, 8, 8}
	checkAdjoint(t, op, shape, shape)
}

func TestGaussianBlurValidation(t *testing.T) {
	_, err := NewGaussianBlur(4, 1.0)
	assert.Error(t, err)
	_, err = NewGaussianBlur(5, 0)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	op, err := FromConfig(Config{Kind: "identity"}, nil)
	require.NoError(t, err)
	assert.IsType(t, Identity{}, op)

	op, err = FromConfig(Config{Kind: "sr", Factor: 2}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SuperResolution{}, op)

	_, err = FromConfig(Config{Kind: "inpaint"}, nil)
	assert.Error(t, err)

	_, err = FromConfig(Config{Kind: "nope"}, nil)
	assert.Error(t, err)
}
