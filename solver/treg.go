package solver

import (
	"math"

	"github.com/ldmsolve/ldmsolve/grad"
	"github.com/ldmsolve/ldmsolve/linalg"
	"github.com/ldmsolve/ldmsolve/ml"
)

// NewTReg builds the consistency-regularized sampler: every Nth step runs a
// conjugate-gradient data-consistency projection (optionally refining the
// null embedding against the projected reconstruction), the remaining steps
// are plain ancestral or, when enabled, DPS gradient-corrected.
func NewTReg(cfg Config, comp Components) (*Solver, error) {
	s := newSolver("treg", cfg, comp, tregStep, true)
	if s.cfg.UseDPS {
		if err := s.requireGradient(); err != nil {
			return nil, err
		}
	}
	if s.cfg.UseAdaptiveNegation && comp.Image == nil {
		return nil, errNeedsImageEmbedder("treg")
	}
	return s, nil
}

func tregStep(s *Solver, st *state, idx, t int) error {
	if idx%s.cfg.ConsistencyEvery == 0 && idx < s.cfg.ConsistencyUntil {
		return consistencyStep(s, st, t)
	}
	if s.cfg.UseDPS {
		return dpsStep(s, st, t)
	}
	return ddimStep(s, st, idx, t)
}

func consistencyStep(s *Solver, st *state, t int) error {
	at, atPrev := s.sched.Alpha(t), s.sched.AlphaPrev(t)

	eps, err := s.pred.Predict(st.zt, t, st.uc, st.c, s.cfg.Guidance)
	if err != nil {
		return err
	}
	z0t := tweedie(st.zt, eps, at)

	z0y, x0y, err := s.dataConsistency(z0t, st.y, st.op)
	if err != nil {
		return err
	}

	if s.cfg.UseAdaptiveNegation {
		uc, err := s.cond.AdaptiveNegation(x0y, st.uc, s.cfg.NegationLR, s.cfg.NegationIters)
		if err != nil {
			return err
		}
		st.uc = uc
	}

	// EMA blend of the projected and unprojected estimates, advanced with a
	// DDPM-like noise injection. The eps coefficient is the literal
	// (1-at_prev), not its square root.
	z0EMA := ml.AddScaled(ml.Scale(z0y, atPrev), 1-atPrev, z0t)
	zt := ml.AddScaled(ml.Scale(z0EMA, math.Sqrt(atPrev)), 1-atPrev, eps)
	noise := ml.RandnLike(st.rng, z0y)
	st.zt = ml.AddScaled(zt, math.Sqrt(1-atPrev)*math.Sqrt(atPrev), noise)
	st.z0t = z0t
	return nil
}

// dataConsistency projects the denoised estimate toward measurement
// agreement by solving the regularized normal equations
// (At A + lambda I) x = At(y) + lambda*x0t with a bounded conjugate-gradient
// run started from x0t, then re-encodes the result.
func (s *Solver) dataConsistency(z0t, y *ml.Tensor, op ml.Operator) (z0y, x0y *ml.Tensor, err error) {
	x0t, err := s.codec.Decode(z0t)
	if err != nil {
		return nil, nil, err
	}
	b := ml.AddScaled(op.Adjoint(y), s.cfg.CGLambda, x0t)
	x0y = linalg.CG(func(x *ml.Tensor) *ml.Tensor {
		return ml.AddScaled(op.Adjoint(op.Apply(x)), s.cfg.CGLambda, x)
	}, b, x0t, s.cfg.CGIters)
	z0y, err = s.codec.Encode(x0y)
	if err != nil {
		return nil, nil, err
	}
	return z0y, x0y, nil
}

// dpsStep corrects the ancestral step with the gradient of the measurement
// residual norm through the unconditional prediction.
func dpsStep(s *Solver, st *state, t int) error {
	at, atPrev := s.sched.Alpha(t), s.sched.AlphaPrev(t)

	tp := grad.NewTape()
	ztNode := tp.Watch(st.zt)
	epsNode, err := s.predictOnTape(tp, ztNode, t, st.uc, st.c, 0)
	if err != nil {
		return err
	}
	z0Node := tp.Scale(tp.AddScaled(ztNode, -math.Sqrt(1-at), epsNode), 1/math.Sqrt(at))

	resNode, _, err := s.residualNorm(tp, z0Node, st)
	if err != nil {
		return err
	}
	g, err := tp.Gradient(resNode, ztNode)
	if err != nil {
		return err
	}

	ztPrime := ancestral(z0Node.Value, epsNode.Value, atPrev)
	scale := s.cfg.DPSScale
	if scale < 0 {
		scale = math.Sqrt(atPrev)
	}
	st.zt = ml.AddScaled(ztPrime, -scale, g)
	st.z0t = z0Node.Value
	st.residual = resNode.Value.Data[0]
	return nil
}
