// Package grad implements scoped reverse-mode automatic differentiation over
// ml.Tensor values.
//
// A Tape is created for exactly the span that needs gradients (the
// measurement-residual corrections and the prompt-tuning loss), used once,
// and discarded. There is no global recording mode: code that runs without a
// tape computes plain forward values. Collaborator calls (decode, encode,
// noise prediction, forward operators) participate through Custom nodes
// whose pullbacks are supplied by the caller.
package grad

import (
	"errors"
	"fmt"

	"github.com/ldmsolve/ldmsolve/ml"
)

// ErrNotScalar is returned by Backward when the loss node is not a scalar.
var ErrNotScalar = errors.New("grad: loss must be a scalar node")

// Node is one value in the recorded computation.
type Node struct {
	Value *ml.Tensor

	tape   *Tape
	inputs []*Node
	// back propagates n.grad into the inputs' grad slots. nil for leaves.
	back func() error
	grad *ml.Tensor
}

// Grad returns the adjoint accumulated for n by Backward, or nil if none
// reached it.
func (n *Node) Grad() *ml.Tensor { return n.grad }

// Tape records operations in execution order for one differentiation span.
type Tape struct {
	nodes []*Node
}

// NewTape returns an empty tape.
func NewTape() *Tape { return &Tape{} }

func (tp *Tape) record(n *Node) *Node {
	tp.nodes = append(tp.nodes, n)
	return n
}

// Watch registers v as a differentiable leaf.
func (tp *Tape) Watch(v *ml.Tensor) *Node {
	return tp.record(&Node{Value: v, tape: tp})
}

// Constant registers v as a non-differentiated leaf. Its adjoint is still
// accumulated but never propagated further.
func (tp *Tape) Constant(v *ml.Tensor) *Node {
	return tp.record(&Node{Value: v, tape: tp})
}

func (n *Node) accumulate(g *ml.Tensor) {
	if n.grad == nil {
		n.grad = g.Clone()
		return
	}
	for i := range n.grad.Data {
		n.grad.Data[i] += g.Data[i]
	}
}

// Backward seeds the scalar loss with adjoint 1 and propagates through the
// tape in reverse order.
func (tp *Tape) Backward(loss *Node) error {
	if loss.Value.Numel() != 1 {
		return ErrNotScalar
	}
	loss.grad = ml.Full(1, loss.Value.Shape...)
	for i := len(tp.nodes) - 1; i >= 0; i-- {
		n := tp.nodes[i]
		if n.back == nil || n.grad == nil {
			continue
		}
		if err := n.back(); err != nil {
			return err
		}
	}
	return nil
}

// Gradient runs Backward on loss and returns the adjoint of wrt.
func (tp *Tape) Gradient(loss, wrt *Node) (*ml.Tensor, error) {
	if err := tp.Backward(loss); err != nil {
		return nil, err
	}
	if wrt.grad == nil {
		return ml.New(wrt.Value.Shape...), nil
	}
	return wrt.grad, nil
}

// Add records a + b.
func (tp *Tape) Add(a, b *Node) *Node {
	out := &Node{Value: ml.Add(a.Value, b.Value), tape: tp, inputs: []*Node{a, b}}
	out.back = func() error {
		a.accumulate(out.grad)
		b.accumulate(out.grad)
		return nil
	}
	return tp.record(out)
}

// Sub records a - b.
func (tp *Tape) Sub(a, b *Node) *Node {
	out := &Node{Value: ml.Sub(a.Value, b.Value), tape: tp, inputs: []*Node{a, b}}
	out.back = func() error {
		a.accumulate(out.grad)
		b.accumulate(ml.Scale(out.grad, -1))
		return nil
	}
	return tp.record(out)
}

// Mul records the elementwise product a * b.
func (tp *Tape) Mul(a, b *Node) *Node {
	out := &Node{Value: ml.Mul(a.Value, b.Value), tape: tp, inputs: []*Node{a, b}}
	out.back = func() error {
		a.accumulate(ml.Mul(out.grad, b.Value))
		b.accumulate(ml.Mul(out.grad, a.Value))
		return nil
	}
	return tp.record(out)
}

// Scale records s * a.
func (tp *Tape) Scale(a *Node, s float64) *Node {
	out := &Node{Value: ml.Scale(a.Value, s), tape: tp, inputs: []*Node{a}}
	out.back = func() error {
		a.accumulate(ml.Scale(out.grad, s))
		return nil
	}
	return tp.record(out)
}

// AddScaled records a + s*b.
func (tp *Tape) AddScaled(a *Node, s float64, b *Node) *Node {
	out := &Node{Value: ml.AddScaled(a.Value, s, b.Value), tape: tp, inputs: []*Node{a, b}}
	out.back = func() error {
		a.accumulate(out.grad)
		b.accumulate(ml.Scale(out.grad, s))
		return nil
	}
	return tp.record(out)
}

// Norm records the L2 norm of a flattened, as a [1] scalar node.
func (tp *Tape) Norm(a *Node) *Node {
	nrm := ml.Norm(a.Value)
	out := &Node{Value: ml.FromSlice([]float64{nrm}, 1), tape: tp, inputs: []*Node{a}}
	out.back = func() error {
		// d||x||/dx = x/||x||; zero vector gets a zero subgradient.
		if nrm == 0 {
			return nil
		}
		a.accumulate(ml.Scale(a.Value, out.grad.Data[0]/nrm))
		return nil
	}
	return tp.record(out)
}

// MSE records the mean squared error between a and the fixed target.
func (tp *Tape) MSE(a *Node, target *ml.Tensor) *Node {
	out := &Node{Value: ml.FromSlice([]float64{ml.MSE(a.Value, target)}, 1), tape: tp, inputs: []*Node{a}}
	out.back = func() error {
		scale := 2 * out.grad.Data[0] / float64(a.Value.Numel())
		g := ml.Scale(ml.Sub(a.Value, target), scale)
		a.accumulate(g)
		return nil
	}
	return tp.record(out)
}

// MeanInner records the mean inner product between the fixed feature vector
// f [1,D] and every row of a [B,L,D]. This is the adaptive-negation
// similarity loss.
func (tp *Tape) MeanInner(f *ml.Tensor, a *Node) *Node {
	d := f.Numel()
	if a.Value.Numel()%d != 0 {
		panic(fmt.Sprintf("grad: feature dim %d does not divide embedding size %d", d, a.Value.Numel()))
	}
	rows := a.Value.Numel() / d

	var sum float64
	for r := 0; r < rows; r++ {
		row := a.Value.Data[r*d : (r+1)*d]
		for i, fv := range f.Data {
			sum += fv * row[i]
		}
	}
	mean := sum / float64(rows)

	out := &Node{Value: ml.FromSlice([]float64{mean}, 1), tape: tp, inputs: []*Node{a}}
	out.back = func() error {
		g := ml.New(a.Value.Shape...)
		scale := out.grad.Data[0] / float64(rows)
		for r := 0; r < rows; r++ {
			row := g.Data[r*d : (r+1)*d]
			for i, fv := range f.Data {
				row[i] = fv * scale
			}
		}
		a.accumulate(g)
		return nil
	}
	return tp.record(out)
}

// Custom records a collaborator call. value is the already-computed forward
// result; vjp receives the output cotangent and must return one cotangent
// per input, in order (nil entries are allowed for inputs that do not
// receive gradient).
func (tp *Tape) Custom(value *ml.Tensor, inputs []*Node, vjp func(cotangent *ml.Tensor) ([]*ml.Tensor, error)) *Node {
	out := &Node{Value: value, tape: tp, inputs: inputs}
	out.back = func() error {
		gs, err := vjp(out.grad)
		if err != nil {
			return err
		}
		if len(gs) != len(inputs) {
			return fmt.Errorf("grad: custom vjp returned %d cotangents for %d inputs", len(gs), len(inputs))
		}
		for i, g := range gs {
			if g != nil {
				inputs[i].accumulate(g)
			}
		}
		return nil
	}
	return tp.record(out)
}
