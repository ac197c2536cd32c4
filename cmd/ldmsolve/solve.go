package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ldmsolve/ldmsolve/envconfig"
	"github.com/ldmsolve/ldmsolve/ml"
	"github.com/ldmsolve/ldmsolve/ml/backend/onnx"
	"github.com/ldmsolve/ldmsolve/operator"
	"github.com/ldmsolve/ldmsolve/solver"
	"github.com/ldmsolve/ldmsolve/vision"
)

func newSolveCommand() *cobra.Command {
	var (
		modelDir string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "solve EXPERIMENT.toml",
		Short: "Run the solves described by an experiment file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := LoadExperiment(args[0])
			if err != nil {
				return err
			}
			if modelDir == "" {
				modelDir = envconfig.Models()
			}
			return runExperiment(cmd.Context(), exp, modelDir, parallel)
		},
	}

	cmd.Flags().StringVar(&modelDir, "models", "", "model directory (default: LDMSOLVE_MODELS)")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "measurements solved concurrently")
	return cmd
}

func runExperiment(ctx context.Context, exp *Experiment, modelDir string, parallel int) error {
	backend, err := onnx.Open(onnx.Config{
		ModelDir:    modelDir,
		LibraryPath: envconfig.OrtLibrary(),
		Threads:     int(envconfig.Threads()),
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	comp := solver.Components{
		Noise: backend,
		Codec: backend,
		Text:  backend,
	}
	if backend.HasImageEmbedder() {
		comp.Image = backend
	}

	if err := os.MkdirAll(exp.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}

	registry := solver.DefaultRegistry()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))

	for i, m := range exp.Measurements {
		m := m
		runID := uuid.New().String()[:8]
		cfg := solver.Config{
			NumSampling:         exp.Steps,
			Guidance:            exp.Guidance,
			NullPrompt:          exp.NullPrompt,
			Prompt:              exp.Prompt,
			Seed:                exp.Seed + uint64(i),
			UseDPS:              exp.UseDPS,
			UseAdaptiveNegation: exp.UseAdaptiveNegation,
			CGLambda:            exp.CGLambda,
			NegationLR:          exp.NegationLR,
			PromptLR:            exp.PromptLR,
			DPSScale:            exp.DPSScale,
			Eta:                 exp.Eta,
			Progress: func(step, t int, residual float64) {
				if step%25 == 0 {
					slog.Debug("step", "run", runID, "step", step, "t", t, "residual", residual)
				}
			},
		}

		g.Go(func() error {
			return solveOne(ctx, registry, cfg, comp, exp, m, runID)
		})
	}
	return g.Wait()
}

func solveOne(ctx context.Context, registry *solver.Registry, cfg solver.Config, comp solver.Components, exp *Experiment, m Measurement, runID string) error {
	s, err := registry.New(exp.Variant, cfg, comp)
	if err != nil {
		return err
	}

	y, mask, err := loadMeasurement(m)
	if err != nil {
		return err
	}
	op, err := operator.FromConfig(m.Operator, mask)
	if err != nil {
		return err
	}

	slog.Info("solving", "run", runID, "variant", exp.Variant, "input", m.Input)
	out, err := s.Solve(ctx, y, op)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Input, err)
	}

	dest := filepath.Join(exp.OutputDir, fmt.Sprintf("%s_%s.png", stem(m.Input), runID))
	if err := vision.SavePNG(out, dest); err != nil {
		return err
	}
	slog.Info("done", "run", runID, "output", dest)
	return nil
}

// loadMeasurement reads the degraded input as a [-1,1] tensor, plus the
// inpainting mask when the operator needs one.
func loadMeasurement(m Measurement) (y, mask *ml.Tensor, err error) {
	img, err := vision.LoadImage(m.Input)
	if err != nil {
		return nil, nil, err
	}
	y = vision.ToTensor(img)

	if m.Operator.MaskPath != "" {
		maskImg, err := vision.LoadImage(m.Operator.MaskPath)
		if err != nil {
			return nil, nil, err
		}
		mask = vision.MaskTensor(maskImg)
	}
	return y, mask, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
