package ml

import "errors"

// ErrNotDifferentiable reports that a backbone capability cannot provide
// vector-Jacobian products. Gradient-guided solver variants surface it as a
// configuration error before the step loop starts.
var ErrNotDifferentiable = errors.New("ml: backend does not support differentiation")
