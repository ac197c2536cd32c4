// Package linalg holds the small dense linear-algebra routines the solvers
// need, chiefly the fixed-iteration conjugate gradient used for
// data-consistency projections.
package linalg

import (
	"gonum.org/v1/gonum/floats"

	"github.com/ldmsolve/ldmsolve/ml"
)

// CG solves apply(x) = b for a symmetric positive-definite apply, starting
// from x0 and running exactly iters iterations. No convergence test is
// performed: the data-consistency projection intentionally runs a small,
// fixed number of inner iterations (5 in the default configuration) and
// accepts the approximate solution.
func CG(apply func(*ml.Tensor) *ml.Tensor, b, x0 *ml.Tensor, iters int) *ml.Tensor {
	x := x0.Clone()
	r := ml.Sub(b, apply(x))
	p := r.Clone()
	rs := floats.Dot(r.Data, r.Data)

	for i := 0; i < iters; i++ {
		if rs == 0 {
			break
		}
		ap := apply(p)
		alpha := rs / floats.Dot(p.Data, ap.Data)

		floats.AddScaled(x.Data, alpha, p.Data)
		floats.AddScaled(r.Data, -alpha, ap.Data)

		rsNew := floats.Dot(r.Data, r.Data)
		beta := rsNew / rs
		// p = r + beta*p
		floats.Scale(beta, p.Data)
		floats.Add(p.Data, r.Data)
		rs = rsNew
	}
	return x
}
