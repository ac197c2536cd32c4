package linalg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldmsolve/ldmsolve/ml"
)

// diag applies a diagonal SPD system.
func diag(d []float64) func(*ml.Tensor) *ml.Tensor {
	return func(x *ml.Tensor) *ml.Tensor {
		out := ml.New(x.Shape...)
		for i := range x.Data {
			out.Data[i] = d[i] * x.Data[i]
		}
		return out
	}
}

func TestCGResidualDecreasesMonotonically(t *testing.T) {
	d := []float64{4, 3, 2, 1.5, 1.2, 1}
	apply := diag(d)
	b := ml.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 6)
	x0 := ml.New(6)

	prev := ml.Norm(ml.Sub(b, apply(x0)))
	x := x0
	for i := 0; i < 5; i++ {
		x = CG(apply, b, x, 1)
		res := ml.Norm(ml.Sub(b, apply(x)))
		require.LessOrEqual(t, res, prev+1e-12, "iteration %d", i)
		prev = res
	}
}

func TestCGSolvesWellConditionedSystem(t *testing.T) {
	d := []float64{2, 2.5, 3, 1.5}
	apply := diag(d)
	want := []float64{1, -2, 0.5, 4}
	b := ml.New(4)
	for i := range b.Data {
		b.Data[i] = d[i] * want[i]
	}

	x := CG(apply, b, ml.New(4), 5)
	for i := range want {
		require.InDelta(t, want[i], x.Data[i], 1e-8)
	}
}

func TestCGRegularizedNormalEquations(t *testing.T) {
	// (AtA + lambda I) x = b with A = 0.5*I masks, the shape used by the
	// data-consistency projection.
	lambda := 1e-4
	a := func(x *ml.Tensor) *ml.Tensor { return ml.Scale(x, 0.5) }
	apply := func(x *ml.Tensor) *ml.Tensor {
		return ml.AddScaled(a(a(x)), lambda, x)
	}

	y := ml.FromSlice([]float64{0.5, 0.25, -0.5, 1}, 4)
	b := ml.AddScaled(a(y), lambda, y)

	x := CG(apply, b, y.Clone(), 5)
	res := ml.Norm(ml.Sub(b, apply(x)))
	require.Less(t, res, 1e-10)
}
