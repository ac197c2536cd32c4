// Command ldmsolve reconstructs images from degraded measurements with a
// pretrained latent-diffusion prior.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ldmsolve/ldmsolve/envconfig"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: envconfig.LogLevel(),
	})))

	root := &cobra.Command{
		Use:           "ldmsolve",
		Short:         "Latent-diffusion inverse problem solver",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(
		newSolveCommand(),
		newVariantsCommand(),
		newEnvCommand(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
