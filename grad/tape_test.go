package grad

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldmsolve/ldmsolve/ml"
)

// numericGrad approximates d f/d x[i] with central differences.
func numericGrad(f func(x *ml.Tensor) float64, x *ml.Tensor) *ml.Tensor {
	const h = 1e-6
	g := ml.New(x.Shape...)
	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + h
		fp := f(x)
		x.Data[i] = orig - h
		fm := f(x)
		x.Data[i] = orig
		g.Data[i] = (fp - fm) / (2 * h)
	}
	return g
}

func TestNormGradient(t *testing.T) {
	x := ml.FromSlice([]float64{0.3, -1.2, 0.7, 2.0}, 4)

	tp := NewTape()
	xn := tp.Watch(x)
	loss := tp.Norm(xn)

	g, err := tp.Gradient(loss, xn)
	require.NoError(t, err)

	want := numericGrad(func(v *ml.Tensor) float64 { return ml.Norm(v) }, x)
	for i := range g.Data {
		require.InDelta(t, want.Data[i], g.Data[i], 1e-5)
	}
}

func TestCompositeGradient(t *testing.T) {
	// loss = || y - 2*x ||, a miniature residual chain
	x := ml.FromSlice([]float64{0.5, -0.25, 1.0}, 3)
	y := ml.FromSlice([]float64{1.0, 1.0, 1.0}, 3)

	tp := NewTape()
	xn := tp.Watch(x)
	ax := tp.Scale(xn, 2)
	diff := tp.Sub(tp.Constant(y), ax)
	loss := tp.Norm(diff)

	g, err := tp.Gradient(loss, xn)
	require.NoError(t, err)

	want := numericGrad(func(v *ml.Tensor) float64 {
		return ml.Norm(ml.AddScaled(y, -2, v))
	}, x)
	for i := range g.Data {
		require.InDelta(t, want.Data[i], g.Data[i], 1e-5)
	}
}

func TestMSEGradient(t *testing.T) {
	x := ml.FromSlice([]float64{0.1, 0.9, -0.4, 0.0}, 4)
	target := ml.FromSlice([]float64{0.0, 1.0, 0.0, 0.5}, 4)

	tp := NewTape()
	xn := tp.Watch(x)
	loss := tp.MSE(xn, target)

	g, err := tp.Gradient(loss, xn)
	require.NoError(t, err)

	want := numericGrad(func(v *ml.Tensor) float64 { return ml.MSE(v, target) }, x)
	for i := range g.Data {
		require.InDelta(t, want.Data[i], g.Data[i], 1e-5)
	}
}

func TestMeanInnerGradient(t *testing.T) {
	f := ml.FromSlice([]float64{1, 2}, 1, 2)
	uc := ml.FromSlice([]float64{0.5, 0.5, -1, 0.25, 0, 1}, 1, 3, 2)

	tp := NewTape()
	ucn := tp.Watch(uc)
	loss := tp.MeanInner(f, ucn)

	// mean over 3 rows of f.row
	require.InDelta(t, ((0.5+1)+(-1+0.5)+(0+2))/3, loss.Value.Data[0], 1e-12)

	g, err := tp.Gradient(loss, ucn)
	require.NoError(t, err)
	for r := 0; r < 3; r++ {
		require.InDelta(t, 1.0/3, g.Data[r*2+0], 1e-12)
		require.InDelta(t, 2.0/3, g.Data[r*2+1], 1e-12)
	}
}

func TestCustomVJP(t *testing.T) {
	// custom op: y = 3*x, vjp multiplies cotangent by 3
	x := ml.FromSlice([]float64{1, -2}, 2)

	tp := NewTape()
	xn := tp.Watch(x)
	y := tp.Custom(ml.Scale(x, 3), []*Node{xn}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		return []*ml.Tensor{ml.Scale(cot, 3)}, nil
	})
	loss := tp.Norm(y)

	g, err := tp.Gradient(loss, xn)
	require.NoError(t, err)

	want := numericGrad(func(v *ml.Tensor) float64 { return ml.Norm(ml.Scale(v, 3)) }, x)
	for i := range g.Data {
		require.InDelta(t, want.Data[i], g.Data[i], 1e-5)
	}
}

func TestBackwardRejectsNonScalar(t *testing.T) {
	tp := NewTape()
	x := tp.Watch(ml.New(2, 2))
	err := tp.Backward(x)
	require.ErrorIs(t, err, ErrNotScalar)
}

func TestGradientOfUnreachedLeafIsZero(t *testing.T) {
	tp := NewTape()
	x := tp.Watch(ml.FromSlice([]float64{1, 2}, 2))
	other := tp.Watch(ml.FromSlice([]float64{3, 4}, 2))
	loss := tp.Norm(x)

	g, err := tp.Gradient(loss, other)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0}, g.Data)
}
