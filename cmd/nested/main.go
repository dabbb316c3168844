// Command nested runs nested-sampling evidence computations and follows
// their progress.
//
// Usage:
//
//	nested run --problem eggbox [--config configs/nested.yaml]
//	nested watch [--run <run id>]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "nested",
		Short:         "Bayesian evidence computation by nested sampling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(newRunCmd(), newWatchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(perrors.ExitCode(err))
	}
}
