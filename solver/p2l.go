package solver

import (
	"math"

	"github.com/ldmsolve/ldmsolve/conditioning"
	"github.com/ldmsolve/ldmsolve/grad"
	"github.com/ldmsolve/ldmsolve/ml"
)

// NewP2L builds the prompt-tuned posterior sampler: each step first refines
// the conditional embedding against a one-step-lookahead reconstruction
// loss, then takes an ancestral step corrected by the measurement-residual
// gradient. Guidance defaults to 1 so the correction runs on the single
// conditional prediction without unconditional mixing.
func NewP2L(cfg Config, comp Components) (*Solver, error) {
	if cfg.Guidance == 0 {
		cfg.Guidance = 1.0
	}
	s := newSolver("p2l", cfg, comp, p2lStep, true)
	if err := s.requireGradient(); err != nil {
		return nil, err
	}
	return s, nil
}

func p2lStep(s *Solver, st *state, idx, t int) error {
	if st.tuner == nil {
		st.tuner = conditioning.NewPromptTuner(s.pred, s.codec, st.op, st.y, s.cfg.PromptLR)
	}

	at, atPrev := s.sched.Alpha(t), s.sched.AlphaPrev(t)

	// embedding tuning before the main update; the refined embedding
	// replaces the old one, the optimizer moments persist in the tuner
	c, _, err := st.tuner.Step(st.zt, st.c, at, t)
	if err != nil {
		return err
	}
	st.c = c

	tp := grad.NewTape()
	ztNode := tp.Watch(st.zt)
	epsNode, err := s.predictOnTape(tp, ztNode, t, st.uc, st.c, s.cfg.Guidance)
	if err != nil {
		return err
	}
	z0Node := tp.Scale(tp.AddScaled(ztNode, -math.Sqrt(1-at), epsNode), 1/math.Sqrt(at))

	ztPrime := proposal(s, st, z0Node.Value, epsNode.Value, at, atPrev)

	resNode, _, err := s.residualNorm(tp, z0Node, st)
	if err != nil {
		return err
	}
	g, err := tp.Gradient(resNode, ztNode)
	if err != nil {
		return err
	}

	st.zt = ml.Sub(ztPrime, g)
	st.z0t = z0Node.Value
	st.residual = resNode.Value.Data[0]
	return nil
}
