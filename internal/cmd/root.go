// Package cmd defines the hpcbridge command tree.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hpcbridge/hpcbridge/internal/observability"
)

var (
	logLevel   string
	logProfile string
)

var rootCmd = &cobra.Command{
	Use:   "hpcbridge",
	Short: "HPC cluster access and data-transfer gateway",
	Long: `hpcbridge fronts a fleet of HPC clusters with a single HTTP API:
token-verified access, pooled SSH sessions, scheduler job submission, and
staged data transfers through object storage.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := observability.Init(logLevel, logProfile)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logProfile, "log-profile", "STRUCTURED", "Log output profile (STRUCTURED|CONSOLE)")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the command tree under ctx, so commands observe
// interrupt-driven cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
