// Package diffusion implements the reverse-diffusion building blocks shared
// by all solver variants: the timestep schedule with its cumulative-alpha
// bookkeeping, the latent codec scaling, and classifier-free noise
// prediction.
package diffusion

import "math"

// Scaled-linear beta schedule constants of Stable Diffusion v1.
const (
	DefaultTrainTimesteps = 1000
	DefaultBetaStart      = 0.00085
	DefaultBetaEnd        = 0.012
)

// Schedule owns the sampling timestep subsequence and the cumulative-alpha
// lookup. The lookup carries a sentinel value of 1.0 at the virtual index
// preceding the first timestep, so Alpha(t) indexes the retention
// coefficient after t denoising steps.
type Schedule struct {
	// Timesteps is the strictly decreasing inference subsequence.
	Timesteps []int
	// Skip is the uniform stride between consecutive timesteps.
	Skip int

	alphas     []float64 // length total+1, alphas[0] = 1.0 sentinel
	finalAlpha float64
}

// NewSchedule builds the schedule for a training horizon of total steps
// sampled at numSampling points, with the scaled-linear beta schedule.
// Skip uses truncating division; step counts that do not divide the horizon
// are not rejected, matching the reference behavior.
func NewSchedule(total, numSampling int) *Schedule {
	betas := make([]float64, total)
	sqrtStart := math.Sqrt(DefaultBetaStart)
	sqrtEnd := math.Sqrt(DefaultBetaEnd)
	for i := range betas {
		b := sqrtStart + float64(i)/float64(total-1)*(sqrtEnd-sqrtStart)
		betas[i] = b * b
	}

	alphas := make([]float64, total+1)
	alphas[0] = 1.0 // sentinel before the first timestep
	prod := 1.0
	for i, b := range betas {
		prod *= 1.0 - b
		alphas[i+1] = prod
	}

	skip := total / numSampling
	timesteps := make([]int, numSampling)
	for i := range timesteps {
		// largest timestep first, offset by one as in the SD scheduler config
		timesteps[i] = (numSampling-1-i)*skip + 1
	}

	return &Schedule{
		Timesteps: timesteps,
		Skip:      skip,
		alphas:    alphas,
		// set_alpha_to_one=false: the terminal alpha is the first real
		// cumulative product, not 1.0.
		finalAlpha: alphas[1],
	}
}

// Alpha returns the cumulative alpha at timestep t.
func (s *Schedule) Alpha(t int) float64 { return s.alphas[t] }

// FinalAlpha returns the terminal alpha substituted when the previous
// timestep would be negative.
func (s *Schedule) FinalAlpha() float64 { return s.finalAlpha }

// PrevTimestep returns t - Skip, which may be negative at the end of the
// schedule.
func (s *Schedule) PrevTimestep(t int) int { return t - s.Skip }

// AlphaPrev returns the cumulative alpha at the previous timestep,
// substituting the terminal alpha when that index is negative.
func (s *Schedule) AlphaPrev(t int) float64 {
	prev := s.PrevTimestep(t)
	if prev < 0 {
		return s.finalAlpha
	}
	return s.alphas[prev]
}
