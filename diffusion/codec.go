package diffusion

import "github.com/ldmsolve/ldmsolve/ml"

// LatentScale is the fixed scaling between the autoencoder posterior and
// the latent space the noise model was trained in.
const LatentScale = 0.18215

// Codec maps between pixel-space images and scaled latents over an opaque
// autoencoder backend.
type Codec struct {
	backend ml.CodecBackend
}

// NewCodec wraps backend with the latent scaling.
func NewCodec(backend ml.CodecBackend) *Codec {
	return &Codec{backend: backend}
}

// Encode draws a posterior sample for x and scales it into latent space.
// Repeated calls may return different samples.
func (c *Codec) Encode(x *ml.Tensor) (*ml.Tensor, error) {
	z, err := c.backend.EncodePosteriorSample(x)
	if err != nil {
		return nil, err
	}
	return ml.Scale(z, LatentScale), nil
}

// Decode reconstructs the image for latent z.
func (c *Codec) Decode(z *ml.Tensor) (*ml.Tensor, error) {
	return c.backend.Reconstruct(ml.Scale(z, 1/LatentScale))
}

// Differentiable reports whether the underlying backend can provide
// vector-Jacobian products.
func (c *Codec) Differentiable() bool {
	_, ok := c.backend.(ml.CodecBackendVJP)
	return ok
}

// DecodeVJP pulls cotangent back through Decode to the latent.
func (c *Codec) DecodeVJP(z, cotangent *ml.Tensor) (*ml.Tensor, error) {
	vjp, ok := c.backend.(ml.CodecBackendVJP)
	if !ok {
		return nil, ml.ErrNotDifferentiable
	}
	g, err := vjp.ReconstructVJP(ml.Scale(z, 1/LatentScale), cotangent)
	if err != nil {
		return nil, err
	}
	return ml.Scale(g, 1/LatentScale), nil
}

// EncodeVJP pulls cotangent back through Encode to the image, taken through
// the posterior mean.
func (c *Codec) EncodeVJP(x, cotangent *ml.Tensor) (*ml.Tensor, error) {
	vjp, ok := c.backend.(ml.CodecBackendVJP)
	if !ok {
		return nil, ml.ErrNotDifferentiable
	}
	return vjp.EncodePosteriorVJP(x, ml.Scale(cotangent, LatentScale))
}
