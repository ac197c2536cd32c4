package ml

// The interfaces below are the boundary to the pretrained generative
// backbone. The solver treats every capability as opaque: implementations
// range from ONNX Runtime sessions (ml/backend/onnx) to the closed-form
// models used in tests.

// NoiseModel predicts the noise content of a batch of noisy latents.
// The batch dimension must support doubling, which classifier-free guidance
// relies on to run the unconditional and conditional passes together.
type NoiseModel interface {
	// NoiseForward returns the predicted noise for latents [B,C,H,W] at the
	// given per-sample timesteps, conditioned on cond [B,L,D].
	NoiseForward(latents *Tensor, timesteps []int, cond *Tensor) (*Tensor, error)
}

// NoiseModelVJP is the optional differentiation capability of a NoiseModel.
// Gradient-guided solver variants require it; backbones that cannot provide
// vector-Jacobian products (e.g. ONNX sessions) simply do not implement it.
type NoiseModelVJP interface {
	// NoiseForwardVJP returns the pullback of cotangent through NoiseForward
	// with respect to the latents and the conditioning.
	NoiseForwardVJP(latents *Tensor, timesteps []int, cond *Tensor, cotangent *Tensor) (gLatents, gCond *Tensor, err error)
}

// CodecBackend is the raw autoencoder pair behind the latent codec. The
// 0.18215 latent scaling is applied by diffusion.Codec, not here.
type CodecBackend interface {
	// EncodePosteriorSample draws a sample from the encoder posterior for
	// image x [B,3,H,W]. It may be stochastic; callers must not assume
	// repeatability.
	EncodePosteriorSample(x *Tensor) (*Tensor, error)

	// Reconstruct decodes an unscaled latent [B,C,h,w] back to pixel space.
	Reconstruct(z *Tensor) (*Tensor, error)
}

// CodecBackendVJP is the optional differentiation capability of a
// CodecBackend. The encode pullback is taken through the posterior mean.
type CodecBackendVJP interface {
	ReconstructVJP(z, cotangent *Tensor) (*Tensor, error)
	EncodePosteriorVJP(x, cotangent *Tensor) (*Tensor, error)
}

// TextEncoder tokenizes and embeds prompts.
type TextEncoder interface {
	// Tokenize pads or truncates to the encoder's fixed context length.
	Tokenize(text string) ([]int64, error)

	// Embed returns the hidden states [1,L,D] for one token sequence.
	Embed(ids []int64) (*Tensor, error)
}

// ImageEmbedder maps an image to a feature vector [1,D]. Adaptive negation
// uses it to steer the null-text embedding away from the reconstruction.
type ImageEmbedder interface {
	EmbedImage(x *Tensor) (*Tensor, error)
}

// Operator is the forward measurement model of an inverse problem together
// with its adjoint. Implementations are linear and stateless; the solver
// never validates that Apply and Adjoint are actually adjoint to each other.
type Operator interface {
	Apply(x *Tensor) *Tensor
	Adjoint(y *Tensor) *Tensor
}
