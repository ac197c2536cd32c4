package operator

import (
	"fmt"

	"github.com/ldmsolve/ldmsolve/ml"
)

// Config selects and parameterizes a forward operator from experiment
// configuration.
type Config struct {
	// Kind is one of "identity", "inpaint", "sr", "blur".
	Kind string `toml:"kind"`
	// Factor is the downsampling factor for "sr".
	Factor int `toml:"factor"`
	// KernelSize and Sigma parameterize "blur".
	KernelSize int     `toml:"kernel_size"`
	Sigma      float64 `toml:"sigma"`
	// MaskPath names the mask image for "inpaint". The caller loads it and
	// passes the decoded mask to FromConfig.
	MaskPath string `toml:"mask_path"`
}

// FromConfig constructs the operator cfg describes. mask is only consulted
// for the inpainting kind.
func FromConfig(cfg Config, mask *ml.Tensor) (ml.Operator, error) {
	switch cfg.Kind {
	case "", "identity":
		return Identity{}, nil
	case "inpaint":
		if mask == nil {
			return nil, fmt.Errorf("operator: inpaint requires a mask")
		}
		return NewInpaint(mask)
	case "sr":
		factor := cfg.Factor
		if factor == 0 {
			factor = 4
		}
		return NewSuperResolution(factor)
	case "blur":
		size, sigma := cfg.KernelSize, cfg.Sigma
		if size == 0 {
			size = 9
		}
		if sigma == 0 {
			sigma = 3.0
		}
		return NewGaussianBlur(size, sigma)
	default:
		return nil, fmt.Errorf("operator: unknown kind %q", cfg.Kind)
	}
}
