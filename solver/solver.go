// Package solver implements the inverse-problem sampling loops over a
// pretrained latent-diffusion backbone. Variants share one step-loop
// skeleton and differ only in the per-step update injected at construction.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"

	"github.com/ldmsolve/ldmsolve/conditioning"
	"github.com/ldmsolve/ldmsolve/diffusion"
	"github.com/ldmsolve/ldmsolve/grad"
	"github.com/ldmsolve/ldmsolve/ml"
)

// Solver runs one sampling variant. Instances are safe to reuse across
// solves but not concurrently: every Solve owns its per-run state.
type Solver struct {
	name  string
	cfg   Config
	sched *diffusion.Schedule
	pred  *diffusion.Predictor
	codec *diffusion.Codec
	cond  *conditioning.Provider

	step             stepFunc
	needsMeasurement bool
}

// state is the per-run mutable state threaded through the step loop.
type state struct {
	zt  *ml.Tensor
	z0t *ml.Tensor
	uc  *ml.Tensor
	c   *ml.Tensor

	y  *ml.Tensor
	op ml.Operator

	rng      rand.Source
	tuner    *conditioning.PromptTuner
	residual float64
}

type stepFunc func(s *Solver, st *state, idx, t int) error

func newSolver(name string, cfg Config, comp Components, step stepFunc, needsMeasurement bool) *Solver {
	cfg = cfg.applyDefaults()
	return &Solver{
		name:             name,
		cfg:              cfg,
		sched:            diffusion.NewSchedule(cfg.TrainTimesteps, cfg.NumSampling),
		pred:             diffusion.NewPredictor(comp.Noise),
		codec:            diffusion.NewCodec(comp.Codec),
		cond:             &conditioning.Provider{Text: comp.Text, Image: comp.Image},
		step:             step,
		needsMeasurement: needsMeasurement,
	}
}

func errNeedsImageEmbedder(name string) error {
	return fmt.Errorf("solver: %s: adaptive negation requires an image embedder", name)
}

func (s *Solver) requireGradient() error {
	if !s.pred.Differentiable() || !s.codec.Differentiable() {
		return fmt.Errorf("solver: %s: %w", s.name, ml.ErrNotDifferentiable)
	}
	return nil
}

// Name returns the variant name the solver was constructed under.
func (s *Solver) Name() string { return s.name }

// Config returns the effective configuration after defaults.
func (s *Solver) Config() Config { return s.cfg }

// Solve runs the full sampling loop against measurement under the forward
// operator and returns the reconstructed image with values in [0,1].
// Measurement and operator may be nil only for the unconditional variant.
func (s *Solver) Solve(ctx context.Context, measurement *ml.Tensor, op ml.Operator) (*ml.Tensor, error) {
	if s.needsMeasurement && (measurement == nil || op == nil) {
		return nil, fmt.Errorf("solver: %s requires a measurement and a forward operator", s.name)
	}

	uc, c, err := s.cond.TextEmbeddings(s.cfg.NullPrompt, s.cfg.Prompt)
	if err != nil {
		return nil, err
	}

	rng := rand.NewSource(s.cfg.Seed)
	st := &state{
		zt:  ml.Randn(rng, 1, s.cfg.LatentChannels, s.cfg.LatentHeight, s.cfg.LatentWidth),
		uc:  uc,
		c:   c,
		y:   measurement,
		op:  op,
		rng: rng,
	}

	slog.Debug("solve start", "variant", s.name, "steps", len(s.sched.Timesteps), "guidance", s.cfg.Guidance, "seed", s.cfg.Seed)

	for i, t := range s.sched.Timesteps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.residual = 0
		if err := s.step(s, st, i, t); err != nil {
			return nil, fmt.Errorf("solver: %s step %d (t=%d): %w", s.name, i, t, err)
		}
		if s.cfg.Progress != nil {
			s.cfg.Progress(i, t, st.residual)
		}
	}

	// the final estimate is decoded directly, never re-noised
	return s.finalize(st.z0t)
}

func (s *Solver) finalize(z0t *ml.Tensor) (*ml.Tensor, error) {
	x, err := s.codec.Decode(z0t)
	if err != nil {
		return nil, err
	}
	out := ml.Scale(x, 0.5)
	for i := range out.Data {
		out.Data[i] += 0.5
	}
	return out.Clamp(0, 1), nil
}

// tweedie is the closed-form denoised estimate at cumulative alpha at.
func tweedie(zt, eps *ml.Tensor, at float64) *ml.Tensor {
	return ml.Scale(ml.AddScaled(zt, -math.Sqrt(1-at), eps), 1/math.Sqrt(at))
}

// ancestral is the deterministic DDIM transition toward atPrev.
func ancestral(z0t, eps *ml.Tensor, atPrev float64) *ml.Tensor {
	return ml.AddScaled(ml.Scale(z0t, math.Sqrt(atPrev)), math.Sqrt(1-atPrev), eps)
}

// NewDDIM builds the unconditional sampler. It ignores any measurement.
func NewDDIM(cfg Config, comp Components) (*Solver, error) {
	return newSolver("ddim", cfg, comp, ddimStep, false), nil
}

func ddimStep(s *Solver, st *state, idx, t int) error {
	at, atPrev := s.sched.Alpha(t), s.sched.AlphaPrev(t)
	eps, err := s.pred.Predict(st.zt, t, st.uc, st.c, s.cfg.Guidance)
	if err != nil {
		return err
	}
	st.z0t = tweedie(st.zt, eps, at)
	st.zt = ancestral(st.z0t, eps, atPrev)
	return nil
}

// Invert maps a clean latent to its starting noisy latent by running the
// denoising recursion in reverse with the given guidance scale.
func (s *Solver) Invert(ctx context.Context, z0, uc, c *ml.Tensor, guidance float64) (*ml.Tensor, error) {
	rec, err := s.invert(ctx, z0, uc, c, guidance, false)
	if err != nil {
		return nil, err
	}
	return rec[len(rec)-1], nil
}

// InvertTrajectory is Invert recording every intermediate latent, the clean
// input first.
func (s *Solver) InvertTrajectory(ctx context.Context, z0, uc, c *ml.Tensor, guidance float64) ([]*ml.Tensor, error) {
	return s.invert(ctx, z0, uc, c, guidance, true)
}

func (s *Solver) invert(ctx context.Context, z0, uc, c *ml.Tensor, guidance float64, recordAll bool) ([]*ml.Tensor, error) {
	zt := z0.Clone()
	record := []*ml.Tensor{zt.Clone()}

	// ascending timesteps: the schedule reversed
	for i := len(s.sched.Timesteps) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := s.sched.Timesteps[i]
		at, atPrev := s.sched.Alpha(t), s.sched.AlphaPrev(t)

		eps, err := s.pred.Predict(zt, t, uc, c, guidance)
		if err != nil {
			return nil, fmt.Errorf("solver: inversion at t=%d: %w", t, err)
		}
		// the recursion inverted: the estimate is formed at the previous
		// noise level and the latent advanced to the current one
		z0t := tweedie(zt, eps, atPrev)
		zt = ancestral(z0t, eps, at)

		if recordAll {
			record = append(record, zt.Clone())
		}
	}
	if !recordAll {
		record = []*ml.Tensor{zt}
	}
	return record, nil
}

// InitLatent returns the starting latent for a solve: a seeded Gaussian
// draw, or the inversion of src when it is non-nil.
func (s *Solver) InitLatent(ctx context.Context, src *ml.Tensor) (*ml.Tensor, error) {
	if src == nil {
		return ml.Randn(rand.NewSource(s.cfg.Seed), 1, s.cfg.LatentChannels, s.cfg.LatentHeight, s.cfg.LatentWidth), nil
	}
	uc, c, err := s.cond.TextEmbeddings(s.cfg.NullPrompt, s.cfg.Prompt)
	if err != nil {
		return nil, err
	}
	z0, err := s.codec.Encode(src)
	if err != nil {
		return nil, err
	}
	return s.Invert(ctx, z0, uc, c, 1.0)
}

// residualNorm records decode, the forward operator, and the measurement
// residual norm ||y - A(x0)|| on the tape. It returns the norm node and the
// decoded image node.
func (s *Solver) residualNorm(tp *grad.Tape, z0 *grad.Node, st *state) (res, x0 *grad.Node, err error) {
	x0v, err := s.codec.Decode(z0.Value)
	if err != nil {
		return nil, nil, err
	}
	x0 = tp.Custom(x0v, []*grad.Node{z0}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		g, err := s.codec.DecodeVJP(z0.Value, cot)
		if err != nil {
			return nil, err
		}
		return []*ml.Tensor{g}, nil
	})
	ax := tp.Custom(st.op.Apply(x0v), []*grad.Node{x0}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		return []*ml.Tensor{st.op.Adjoint(cot)}, nil
	})
	r := tp.Sub(tp.Constant(st.y), ax)
	return tp.Norm(r), x0, nil
}

// predictOnTape records a guided noise prediction whose pullback reaches the
// watched latent node.
func (s *Solver) predictOnTape(tp *grad.Tape, ztNode *grad.Node, t int, uc, c *ml.Tensor, scale float64) (*grad.Node, error) {
	zt := ztNode.Value
	eps, err := s.pred.Predict(zt, t, uc, c, scale)
	if err != nil {
		return nil, err
	}
	return tp.Custom(eps, []*grad.Node{ztNode}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		gz, _, err := s.pred.PredictVJP(zt, t, uc, c, scale, cot)
		if err != nil {
			return nil, err
		}
		return []*ml.Tensor{gz}, nil
	}), nil
}
