package solver

import (
	"github.com/ldmsolve/ldmsolve/diffusion"
	"github.com/ldmsolve/ldmsolve/ml"
)

// Config carries everything a solve needs beyond the measurement itself.
// The zero value is usable: applyDefaults fills in the reference settings.
type Config struct {
	// NumSampling is the number of reverse-diffusion steps.
	NumSampling int
	// TrainTimesteps is the training horizon of the backbone schedule.
	TrainTimesteps int
	// Guidance is the classifier-free guidance scale. Values above 1
	// extrapolate; 1 runs the conditional prediction alone. Zero selects
	// the variant default: 7.5, or 1 for the prompt-tuned variant.
	Guidance float64
	// NullPrompt and Prompt are the unconditional / conditional texts.
	NullPrompt string
	Prompt     string
	// Seed drives every Gaussian draw of the solve.
	Seed uint64

	// Latent geometry.
	LatentChannels int
	LatentHeight   int
	LatentWidth    int

	// UseDPS enables the gradient correction on non-consistency steps of
	// the consistency-regularized variant.
	UseDPS bool
	// DPSScale overrides the correction step size; 0 means sqrt(at_prev).
	DPSScale float64
	// UseAdaptiveNegation refines the null embedding against the current
	// reconstruction on consistency steps.
	UseAdaptiveNegation bool
	// NegationLR and NegationIters drive the null-embedding refinement.
	NegationLR    float64
	NegationIters int

	// CGLambda and CGIters parameterize the data-consistency solve.
	CGLambda float64
	CGIters  int
	// ConsistencyEvery and ConsistencyUntil define the cadence: a
	// consistency update runs on step indices divisible by Every and below
	// Until. Tuned defaults, not invariants.
	ConsistencyEvery int
	ConsistencyUntil int

	// Omega and Gamma weigh the measurement and orthogonal-projection
	// residuals of the latent posterior variant.
	Omega float64
	Gamma float64
	// Eta is the DDIM stochasticity of the posterior variants.
	Eta float64

	// PromptLR drives the per-step embedding tuning of the prompt-tuned
	// variant.
	PromptLR float64

	// Progress, when set, is called after every step with the residual of
	// gradient-corrected variants (0 where none is computed).
	Progress func(step, t int, residual float64)
}

func (c Config) applyDefaults() Config {
	if c.NumSampling == 0 {
		c.NumSampling = 200
	}
	if c.TrainTimesteps == 0 {
		c.TrainTimesteps = diffusion.DefaultTrainTimesteps
	}
	if c.Guidance == 0 {
		c.Guidance = 7.5
	}
	if c.LatentChannels == 0 {
		c.LatentChannels = 4
	}
	if c.LatentHeight == 0 {
		c.LatentHeight = 64
	}
	if c.LatentWidth == 0 {
		c.LatentWidth = 64
	}
	if c.DPSScale == 0 {
		c.DPSScale = -1 // sentinel: use sqrt(at_prev) per step
	}
	if c.NegationLR == 0 {
		c.NegationLR = 1e-3
	}
	if c.NegationIters == 0 {
		c.NegationIters = 10
	}
	if c.CGLambda == 0 {
		c.CGLambda = 1e-4
	}
	if c.CGIters == 0 {
		c.CGIters = 5
	}
	if c.ConsistencyEvery == 0 {
		c.ConsistencyEvery = 3
	}
	if c.ConsistencyUntil == 0 {
		c.ConsistencyUntil = 170
	}
	if c.Omega == 0 {
		c.Omega = 1.0
	}
	if c.Gamma == 0 {
		c.Gamma = 0.5
	}
	if c.PromptLR == 0 {
		c.PromptLR = 1e-4
	}
	return c
}

// Components bundles the pretrained backbone capabilities a solver runs
// against. Image may be nil unless adaptive negation is enabled.
type Components struct {
	Noise ml.NoiseModel
	Codec ml.CodecBackend
	Text  ml.TextEncoder
	Image ml.ImageEmbedder
}
