package solver

import (
	"math"

	"github.com/ldmsolve/ldmsolve/grad"
	"github.com/ldmsolve/ldmsolve/ml"
)

// NewPSLD builds the latent posterior sampler: every step corrects the
// ancestral proposal with the gradient of a combined residual pairing the
// direct measurement mismatch with an orthogonal-projection consistency
// term in latent space.
func NewPSLD(cfg Config, comp Components) (*Solver, error) {
	s := newSolver("psld", cfg, comp, psldStep, true)
	if err := s.requireGradient(); err != nil {
		return nil, err
	}
	return s, nil
}

func psldStep(s *Solver, st *state, idx, t int) error {
	at, atPrev := s.sched.Alpha(t), s.sched.AlphaPrev(t)

	tp := grad.NewTape()
	ztNode := tp.Watch(st.zt)
	epsNode, err := s.predictOnTape(tp, ztNode, t, st.uc, st.c, s.cfg.Guidance)
	if err != nil {
		return err
	}
	z0Node := tp.Scale(tp.AddScaled(ztNode, -math.Sqrt(1-at), epsNode), 1/math.Sqrt(at))

	ztPrime := proposal(s, st, z0Node.Value, epsNode.Value, at, atPrev)

	resNode, x0Node, err := s.residualNorm(tp, z0Node, st)
	if err != nil {
		return err
	}

	// orthogonal-projection consistency: re-encode
	// At(y) + (x0t - At(A(x0t))) and penalize its distance to z0t.
	ataNode := tp.Custom(st.op.Adjoint(st.op.Apply(x0Node.Value)), []*grad.Node{x0Node}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		return []*ml.Tensor{st.op.Adjoint(st.op.Apply(cot))}, nil
	})
	projNode := tp.Add(tp.Constant(st.op.Adjoint(st.y)), tp.Sub(x0Node, ataNode))

	reconV, err := s.codec.Encode(projNode.Value)
	if err != nil {
		return err
	}
	reconNode := tp.Custom(reconV, []*grad.Node{projNode}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		g, err := s.codec.EncodeVJP(projNode.Value, cot)
		if err != nil {
			return nil, err
		}
		return []*ml.Tensor{g}, nil
	})
	latentRes := tp.Norm(tp.Sub(reconNode, z0Node))

	total := tp.Add(tp.Scale(resNode, s.cfg.Omega), tp.Scale(latentRes, s.cfg.Gamma))
	g, err := tp.Gradient(total, ztNode)
	if err != nil {
		return err
	}

	// raw gradient, no step-size scaling
	st.zt = ml.Sub(ztPrime, g)
	st.z0t = z0Node.Value
	st.residual = total.Value.Data[0]
	return nil
}

// proposal is the eta-parameterized DDIM transition (equation 12): with
// eta=0 it reduces to the deterministic ancestral step.
func proposal(s *Solver, st *state, z0t, eps *ml.Tensor, at, atPrev float64) *ml.Tensor {
	if s.cfg.Eta == 0 {
		return ancestral(z0t, eps, atPrev)
	}
	sig := s.cfg.Eta * math.Sqrt((1-atPrev)/(1-at)) * math.Sqrt(1-at/atPrev)
	out := ml.AddScaled(ml.Scale(z0t, math.Sqrt(atPrev)), math.Sqrt(1-atPrev-sig*sig), eps)
	return ml.AddScaled(out, sig, ml.RandnLike(st.rng, z0t))
}
