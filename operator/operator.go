// Package operator implements the linear forward operators that degrade a
// clean image into a measurement, together with their adjoints. Adjoints are
// exact transposes, so data-consistency solves can use the normal equations
// directly.
package operator

import (
	"fmt"
	"math"

	"github.com/ldmsolve/ldmsolve/ml"
)

// Identity passes the image through unchanged.
type Identity struct{}

func (Identity) Apply(x *ml.Tensor) *ml.Tensor   { return x.Clone() }
func (Identity) Adjoint(y *ml.Tensor) *ml.Tensor { return y.Clone() }

// Inpaint zeroes the pixels outside the mask. The mask holds one value per
// spatial location, broadcast over channels, and the operator is its own
// adjoint.
type Inpaint struct {
	mask *ml.Tensor // [1,1,H,W], entries in {0,1}
}

// NewInpaint validates the mask shape.
func NewInpaint(mask *ml.Tensor) (*Inpaint, error) {
	if len(mask.Shape) != 4 || mask.Shape[0] != 1 || mask.Shape[1] != 1 {
		return nil, fmt.Errorf("operator: inpaint mask must be [1,1,H,W], got %v", mask.Shape)
	}
	return &Inpaint{mask: mask}, nil
}

func (op *Inpaint) Apply(x *ml.Tensor) *ml.Tensor {
	out := x.Clone()
	per := x.Shape[2] * x.Shape[3]
	for c := 0; c < x.Shape[1]; c++ {
		for i := 0; i < per; i++ {
			out.Data[c*per+i] *= op.mask.Data[i]
		}
	}
	return out
}

func (op *Inpaint) Adjoint(y *ml.Tensor) *ml.Tensor { return op.Apply(y) }

// SuperResolution downsamples by average pooling with a square factor. The
// adjoint spreads each measurement value back over its pooling window,
// scaled by 1/factor^2.
type SuperResolution struct {
	factor int
}

// NewSuperResolution validates the pooling factor.
func NewSuperResolution(factor int) (*SuperResolution, error) {
	if factor < 1 {
		return nil, fmt.Errorf("operator: super-resolution factor must be positive, got %d", factor)
	}
	return &SuperResolution{factor: factor}, nil
}

func (op *SuperResolution) Apply(x *ml.Tensor) *ml.Tensor {
	k := op.factor
	c, h, w := x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/k, w/k
	out := ml.New(1, c, oh, ow)
	inv := 1 / float64(k*k)
	for ch := 0; ch < c; ch++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				var sum float64
				for dy := 0; dy < k; dy++ {
					for dx := 0; dx < k; dx++ {
						sum += x.Data[(ch*h+oy*k+dy)*w+ox*k+dx]
					}
				}
				out.Data[(ch*oh+oy)*ow+ox] = sum * inv
			}
		}
	}
	return out
}

func (op *SuperResolution) Adjoint(y *ml.Tensor) *ml.Tensor {
	k := op.factor
	c, oh, ow := y.Shape[1], y.Shape[2], y.Shape[3]
	h, w := oh*k, ow*k
	out := ml.New(1, c, h, w)
	inv := 1 / float64(k*k)
	for ch := 0; ch < c; ch++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				v := y.Data[(ch*oh+oy)*ow+ox] * inv
				for dy := 0; dy < k; dy++ {
					for dx := 0; dx < k; dx++ {
						out.Data[(ch*h+oy*k+dy)*w+ox*k+dx] = v
					}
				}
			}
		}
	}
	return out
}

// GaussianBlur convolves each channel with a separable Gaussian kernel under
// zero padding. A symmetric kernel makes the operator self-adjoint.
type GaussianBlur struct {
	kernel []float64
	radius int
}

// NewGaussianBlur builds a normalized kernel of the given size and sigma.
func NewGaussianBlur(size int, sigma float64) (*GaussianBlur, error) {
	if size < 1 || size%2 == 0 {
		return nil, fmt.Errorf("operator: blur kernel size must be odd and positive, got %d", size)
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("operator: blur sigma must be positive, got %g", sigma)
	}
	radius := size / 2
	kernel := make([]float64, size)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return &GaussianBlur{kernel: kernel, radius: radius}, nil
}

func (op *GaussianBlur) Apply(x *ml.Tensor) *ml.Tensor {
	c, h, w := x.Shape[1], x.Shape[2], x.Shape[3]
	tmp := ml.New(1, c, h, w)
	out := ml.New(1, c, h, w)
	// horizontal pass
	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				var sum float64
				for i, kv := range op.kernel {
					sx := xx + i - op.radius
					if sx < 0 || sx >= w {
						continue
					}
					sum += kv * x.Data[(ch*h+y)*w+sx]
				}
				tmp.Data[(ch*h+y)*w+xx] = sum
			}
		}
	}
	// vertical pass
	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				var sum float64
				for i, kv := range op.kernel {
					sy := y + i - op.radius
					if sy < 0 || sy >= h {
						continue
					}
					sum += kv * tmp.Data[(ch*h+sy)*w+xx]
				}
				out.Data[(ch*h+y)*w+xx] = sum
			}
		}
	}
	return out
}

func (op *GaussianBlur) Adjoint(y *ml.Tensor) *ml.Tensor { return op.Apply(y) }
