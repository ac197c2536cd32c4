// Package ml provides the dense tensor value type shared by every solver
// component, plus the boundary interfaces for the pretrained backbone
// (noise model, latent codec, text encoder, image embedder).
//
// Tensors are row-major float64 with an explicit shape. All operations
// allocate their result; nothing mutates its operands unless the name says
// so. Vector kernels are gonum's.
package ml

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Tensor is an n-dimensional float64 array in row-major layout.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a zero tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Tensor{Data: make([]float64, n), Shape: append([]int{}, shape...)}
}

// FromSlice wraps data in a tensor. The slice is not copied; len(data) must
// equal the shape product.
func FromSlice(data []float64, shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if len(data) != n {
		panic(fmt.Sprintf("ml: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{Data: data, Shape: append([]int{}, shape...)}
}

// Full allocates a tensor filled with v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	d := make([]float64, len(t.Data))
	copy(d, t.Data)
	return &Tensor{Data: d, Shape: append([]int{}, t.Shape...)}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Reshape returns a view of t with a new shape of equal element count.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(t.Data) {
		panic(fmt.Sprintf("ml: cannot reshape %v to %v", t.Shape, shape))
	}
	return &Tensor{Data: t.Data, Shape: append([]int{}, shape...)}
}

// Add returns a + b.
func Add(a, b *Tensor) *Tensor {
	out := New(a.Shape...)
	floats.AddTo(out.Data, a.Data, b.Data)
	return out
}

// Sub returns a - b.
func Sub(a, b *Tensor) *Tensor {
	out := New(a.Shape...)
	floats.SubTo(out.Data, a.Data, b.Data)
	return out
}

// Mul returns the elementwise product a * b.
func Mul(a, b *Tensor) *Tensor {
	out := New(a.Shape...)
	floats.MulTo(out.Data, a.Data, b.Data)
	return out
}

// Scale returns s * a.
func Scale(a *Tensor, s float64) *Tensor {
	out := New(a.Shape...)
	floats.ScaleTo(out.Data, s, a.Data)
	return out
}

// AddScaled returns a + s*b.
func AddScaled(a *Tensor, s float64, b *Tensor) *Tensor {
	out := New(a.Shape...)
	floats.AddScaledTo(out.Data, a.Data, s, b.Data)
	return out
}

// Dot returns the inner product of a and b flattened.
func Dot(a, b *Tensor) float64 {
	return floats.Dot(a.Data, b.Data)
}

// Norm returns the L2 norm of a flattened.
func Norm(a *Tensor) float64 {
	return floats.Norm(a.Data, 2)
}

// MSE returns the mean squared error between a and b.
func MSE(a, b *Tensor) float64 {
	var sum float64
	for i := range a.Data {
		d := a.Data[i] - b.Data[i]
		sum += d * d
	}
	return sum / float64(len(a.Data))
}

// Clamp limits every element of t to [lo, hi] in place and returns t.
func (t *Tensor) Clamp(lo, hi float64) *Tensor {
	for i, v := range t.Data {
		if v < lo {
			t.Data[i] = lo
		} else if v > hi {
			t.Data[i] = hi
		}
	}
	return t
}

// Concat stacks a and b along the batch (first) dimension. The trailing
// dimensions must match.
func Concat(a, b *Tensor) *Tensor {
	shape := append([]int{}, a.Shape...)
	shape[0] = a.Shape[0] + b.Shape[0]
	out := New(shape...)
	copy(out.Data, a.Data)
	copy(out.Data[len(a.Data):], b.Data)
	return out
}

// Chunk2 splits t into two equal halves along the batch dimension.
func Chunk2(t *Tensor) (*Tensor, *Tensor) {
	if t.Shape[0]%2 != 0 {
		panic(fmt.Sprintf("ml: cannot split batch of %d in two", t.Shape[0]))
	}
	shape := append([]int{}, t.Shape...)
	shape[0] = t.Shape[0] / 2
	half := len(t.Data) / 2
	a := FromSlice(append([]float64{}, t.Data[:half]...), shape...)
	b := FromSlice(append([]float64{}, t.Data[half:]...), shape...)
	return a, b
}

// Randn fills a new tensor with standard normal draws from src.
func Randn(src rand.Source, shape ...int) *Tensor {
	n := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = n.Rand()
	}
	return t
}

// RandnLike is Randn with the shape of ref.
func RandnLike(src rand.Source, ref *Tensor) *Tensor {
	return Randn(src, ref.Shape...)
}
