package conditioning

import (
	"math"

	"github.com/ldmsolve/ldmsolve/diffusion"
	"github.com/ldmsolve/ldmsolve/grad"
	"github.com/ldmsolve/ldmsolve/ml"
	"github.com/ldmsolve/ldmsolve/optim"
)

// PromptTuner refines the conditional embedding with a one-step lookahead
// loss: predict the noise with the current embedding, form the denoised
// estimate, decode it, push it through the forward operator, and take the
// MSE against the measurement. The optimizer state persists across sampling
// steps.
type PromptTuner struct {
	pred  *diffusion.Predictor
	codec *diffusion.Codec
	op    ml.Operator
	y     *ml.Tensor
	lr    float64
	opt   *optim.Adam
}

// NewPromptTuner binds the tuner to its backbone, forward operator, and
// measurement.
func NewPromptTuner(pred *diffusion.Predictor, codec *diffusion.Codec, op ml.Operator, y *ml.Tensor, lr float64) *PromptTuner {
	return &PromptTuner{pred: pred, codec: codec, op: op, y: y, lr: lr}
}

// Step runs one tuning update at timestep t with cumulative alpha at and
// returns the refined embedding and the lookahead loss value. c is not
// modified.
func (pt *PromptTuner) Step(zt *ml.Tensor, c *ml.Tensor, at float64, t int) (*ml.Tensor, float64, error) {
	if pt.opt == nil {
		pt.opt = optim.NewAdam(c.Numel(), pt.lr)
	}

	tp := grad.NewTape()
	cNode := tp.Watch(c)
	ztNode := tp.Constant(zt)

	eps, err := pt.pred.Predict(zt, t, nil, c, 1.0)
	if err != nil {
		return nil, 0, err
	}
	epsNode := tp.Custom(eps, []*grad.Node{cNode}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		_, gc, err := pt.pred.PredictVJP(zt, t, nil, c, 1.0, cot)
		if err != nil {
			return nil, err
		}
		return []*ml.Tensor{gc}, nil
	})

	// z0t = (zt - sqrt(1-at)*eps) / sqrt(at)
	z0Node := tp.Scale(tp.AddScaled(ztNode, -math.Sqrt(1-at), epsNode), 1/math.Sqrt(at))

	x0, err := pt.codec.Decode(z0Node.Value)
	if err != nil {
		return nil, 0, err
	}
	x0Node := tp.Custom(x0, []*grad.Node{z0Node}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		g, err := pt.codec.DecodeVJP(z0Node.Value, cot)
		if err != nil {
			return nil, err
		}
		return []*ml.Tensor{g}, nil
	})

	axNode := tp.Custom(pt.op.Apply(x0), []*grad.Node{x0Node}, func(cot *ml.Tensor) ([]*ml.Tensor, error) {
		return []*ml.Tensor{pt.op.Adjoint(cot)}, nil
	})

	loss := tp.MSE(axNode, pt.y)
	g, err := tp.Gradient(loss, cNode)
	if err != nil {
		return nil, 0, err
	}

	out := c.Clone()
	pt.opt.StepTensor(out, g)
	return out, loss.Value.Data[0], nil
}
