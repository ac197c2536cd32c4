package diffusion

import "github.com/ldmsolve/ldmsolve/ml"

// Predictor computes noise estimates with classifier-free guidance over an
// opaque noise model.
type Predictor struct {
	model ml.NoiseModel
}

// NewPredictor wraps model.
func NewPredictor(model ml.NoiseModel) *Predictor {
	return &Predictor{model: model}
}

// Predict returns the guided noise estimate for zt at timestep t.
//
// With uc == nil or scale == 1 a single conditional pass is run. Otherwise
// the unconditional and conditional inputs are batched into one doubled
// forward pass, split, and mixed as
//
//	eps = eps_uc + scale*(eps_c - eps_uc)
//
// which is linear extrapolation: scale may exceed 1.
func (p *Predictor) Predict(zt *ml.Tensor, t int, uc, c *ml.Tensor, scale float64) (*ml.Tensor, error) {
	if uc == nil || scale == 1.0 {
		return p.model.NoiseForward(zt, []int{t}, c)
	}
	epsUC, epsC, err := p.PredictSplit(zt, t, uc, c)
	if err != nil {
		return nil, err
	}
	return ml.AddScaled(epsUC, scale, ml.Sub(epsC, epsUC)), nil
}

// PredictSplit returns the unmixed unconditional and conditional estimates
// from one doubled-batch forward pass.
func (p *Predictor) PredictSplit(zt *ml.Tensor, t int, uc, c *ml.Tensor) (epsUC, epsC *ml.Tensor, err error) {
	zIn := ml.Concat(zt, zt)
	cond := ml.Concat(uc, c)
	out, err := p.model.NoiseForward(zIn, []int{t, t}, cond)
	if err != nil {
		return nil, nil, err
	}
	epsUC, epsC = ml.Chunk2(out)
	return epsUC, epsC, nil
}

// Differentiable reports whether the underlying model can provide
// vector-Jacobian products.
func (p *Predictor) Differentiable() bool {
	_, ok := p.model.(ml.NoiseModelVJP)
	return ok
}

// PredictVJP pulls cotangent back through Predict to the latent and the
// guidance conditioning. The guided estimate is
// (1-scale)*eps_uc + scale*eps_c, so the pullback is the matching linear
// combination of the two per-pass pullbacks. The returned conditioning
// cotangent is with respect to c only; uc is treated as fixed.
func (p *Predictor) PredictVJP(zt *ml.Tensor, t int, uc, c *ml.Tensor, scale float64, cotangent *ml.Tensor) (gZT, gC *ml.Tensor, err error) {
	vjp, ok := p.model.(ml.NoiseModelVJP)
	if !ok {
		return nil, nil, ml.ErrNotDifferentiable
	}

	if uc == nil || scale == 1.0 {
		return vjp.NoiseForwardVJP(zt, []int{t}, c, cotangent)
	}

	gzUC, _, err := vjp.NoiseForwardVJP(zt, []int{t}, uc, cotangent)
	if err != nil {
		return nil, nil, err
	}
	gzC, gcC, err := vjp.NoiseForwardVJP(zt, []int{t}, c, cotangent)
	if err != nil {
		return nil, nil, err
	}
	gZT = ml.AddScaled(ml.Scale(gzUC, 1-scale), scale, gzC)
	if gcC != nil {
		gC = ml.Scale(gcC, scale)
	}
	return gZT, gC, nil
}
