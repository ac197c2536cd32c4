// Package mltest provides closed-form backbone implementations for tests:
// linear noise models, an oracle noise model that denoises toward a known
// latent, a gain codec, and deterministic text/image embedders. All of them
// implement the VJP capabilities exactly, so gradient-guided solver paths
// can be exercised end to end.
package mltest

import (
	"math"

	"github.com/ldmsolve/ldmsolve/ml"
)

// LinearNoise predicts eps = A*z + B*mean(cond), broadcast over the latent.
// With B = 0 it is a pure linear map of the latent, which makes guidance
// mixing checks exact.
type LinearNoise struct {
	A float64
	B float64
}

func (m *LinearNoise) NoiseForward(latents *ml.Tensor, timesteps []int, cond *ml.Tensor) (*ml.Tensor, error) {
	out := ml.Scale(latents, m.A)
	if m.B == 0 || cond == nil {
		return out, nil
	}
	batch := latents.Shape[0]
	per := latents.Numel() / batch
	condPer := cond.Numel() / batch
	for b := 0; b < batch; b++ {
		var mean float64
		for _, v := range cond.Data[b*condPer : (b+1)*condPer] {
			mean += v
		}
		mean /= float64(condPer)
		for i := b * per; i < (b+1)*per; i++ {
			out.Data[i] += m.B * mean
		}
	}
	return out, nil
}

func (m *LinearNoise) NoiseForwardVJP(latents *ml.Tensor, timesteps []int, cond *ml.Tensor, cotangent *ml.Tensor) (*ml.Tensor, *ml.Tensor, error) {
	gz := ml.Scale(cotangent, m.A)
	if m.B == 0 || cond == nil {
		return gz, nil, nil
	}
	gc := ml.New(cond.Shape...)
	batch := latents.Shape[0]
	per := latents.Numel() / batch
	condPer := cond.Numel() / batch
	for b := 0; b < batch; b++ {
		var sum float64
		for _, v := range cotangent.Data[b*per : (b+1)*per] {
			sum += v
		}
		g := m.B * sum / float64(condPer)
		for i := b * condPer; i < (b+1)*condPer; i++ {
			gc.Data[i] = g
		}
	}
	return gz, gc, nil
}

// AlphaTable is the subset of the schedule an OracleNoise needs.
type AlphaTable interface {
	Alpha(t int) float64
}

// OracleNoise predicts exactly the noise that separates the input from a
// known clean latent: eps = (z - sqrt(at)*zStar) / sqrt(1-at). The Tweedie
// estimate then recovers zStar at every step, so consistency-regularized
// runs converge onto it.
type OracleNoise struct {
	Alphas AlphaTable
	ZStar  *ml.Tensor
}

func (m *OracleNoise) NoiseForward(latents *ml.Tensor, timesteps []int, cond *ml.Tensor) (*ml.Tensor, error) {
	batch := latents.Shape[0]
	per := latents.Numel() / batch
	out := ml.New(latents.Shape...)
	for b := 0; b < batch; b++ {
		at := m.Alphas.Alpha(timesteps[b])
		sa := math.Sqrt(at)
		inv := 1 / math.Sqrt(1-at)
		for i := 0; i < per; i++ {
			out.Data[b*per+i] = (latents.Data[b*per+i] - sa*m.ZStar.Data[i]) * inv
		}
	}
	return out, nil
}

func (m *OracleNoise) NoiseForwardVJP(latents *ml.Tensor, timesteps []int, cond *ml.Tensor, cotangent *ml.Tensor) (*ml.Tensor, *ml.Tensor, error) {
	batch := latents.Shape[0]
	per := latents.Numel() / batch
	gz := ml.New(latents.Shape...)
	for b := 0; b < batch; b++ {
		inv := 1 / math.Sqrt(1-m.Alphas.Alpha(timesteps[b]))
		for i := 0; i < per; i++ {
			gz.Data[b*per+i] = cotangent.Data[b*per+i] * inv
		}
	}
	return gz, nil, nil
}

// GainCodec reconstructs with a fixed gain and encodes with its inverse:
// Reconstruct(z) = Gain*z, EncodePosteriorSample(x) = x/Gain. Latent and
// pixel space share a shape, and the round trip is exact, which makes the
// codec-bound tests deterministic.
type GainCodec struct {
	Gain float64
}

func (c *GainCodec) EncodePosteriorSample(x *ml.Tensor) (*ml.Tensor, error) {
	return ml.Scale(x, 1/c.Gain), nil
}

func (c *GainCodec) Reconstruct(z *ml.Tensor) (*ml.Tensor, error) {
	return ml.Scale(z, c.Gain), nil
}

func (c *GainCodec) ReconstructVJP(z, cotangent *ml.Tensor) (*ml.Tensor, error) {
	return ml.Scale(cotangent, c.Gain), nil
}

func (c *GainCodec) EncodePosteriorVJP(x, cotangent *ml.Tensor) (*ml.Tensor, error) {
	return ml.Scale(cotangent, 1/c.Gain), nil
}

// StaticTextEncoder produces a deterministic embedding from the token ids,
// with a fixed context length and embedding width.
type StaticTextEncoder struct {
	ContextLen int
	Width      int
}

func (e *StaticTextEncoder) Tokenize(text string) ([]int64, error) {
	ids := make([]int64, e.ContextLen)
	for i, r := range text {
		if i >= e.ContextLen {
			break
		}
		ids[i] = int64(r)
	}
	return ids, nil
}

func (e *StaticTextEncoder) Embed(ids []int64) (*ml.Tensor, error) {
	out := ml.New(1, e.ContextLen, e.Width)
	for i, id := range ids {
		for j := 0; j < e.Width; j++ {
			out.Data[i*e.Width+j] = math.Sin(float64(id) + float64(j)*0.1)
		}
	}
	return out, nil
}

// MeanImageEmbedder reduces an image [1,C,H,W] to per-channel means padded
// to Width features.
type MeanImageEmbedder struct {
	Width int
}

func (e *MeanImageEmbedder) EmbedImage(x *ml.Tensor) (*ml.Tensor, error) {
	channels := x.Shape[1]
	per := x.Shape[2] * x.Shape[3]
	out := ml.New(1, e.Width)
	for c := 0; c < channels && c < e.Width; c++ {
		var mean float64
		for _, v := range x.Data[c*per : (c+1)*per] {
			mean += v
		}
		out.Data[c] = mean / float64(per)
	}
	return out, nil
}

// Identity is the identity forward operator, A = At = I.
type Identity struct{}

func (Identity) Apply(x *ml.Tensor) *ml.Tensor   { return x.Clone() }
func (Identity) Adjoint(y *ml.Tensor) *ml.Tensor { return y.Clone() }
