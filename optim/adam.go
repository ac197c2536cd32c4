// Package optim provides the first-order optimizer used by the
// conditioning-refinement loops.
package optim

import (
	"math"

	"github.com/ldmsolve/ldmsolve/ml"
)

// Adam keeps per-parameter first and second moment estimates across steps.
// One instance must be reused for the whole refinement loop so the moments
// accumulate.
type Adam struct {
	M, V  []float64
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	T     int
}

// NewAdam allocates moment buffers for numParams parameters with the usual
// defaults (beta1 0.9, beta2 0.999, eps 1e-8).
func NewAdam(numParams int, lr float64) *Adam {
	return &Adam{
		M:     make([]float64, numParams),
		V:     make([]float64, numParams),
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
	}
}

// Step applies one bias-corrected update to params in place.
func (opt *Adam) Step(params, grads []float64) {
	opt.T++

	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.T))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.T))

	for i := range params {
		g := grads[i]

		opt.M[i] = opt.Beta1*opt.M[i] + (1-opt.Beta1)*g
		opt.V[i] = opt.Beta2*opt.V[i] + (1-opt.Beta2)*g*g

		mHat := opt.M[i] / bc1
		vHat := opt.V[i] / bc2

		params[i] -= opt.LR * mHat / (math.Sqrt(vHat) + opt.Eps)
	}
}

// StepTensor updates param from grad, which must share its shape.
func (opt *Adam) StepTensor(param, grad *ml.Tensor) {
	opt.Step(param.Data, grad.Data)
}
