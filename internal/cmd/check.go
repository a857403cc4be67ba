package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/internal/observability"
	"github.com/hpcbridge/hpcbridge/pkg/resolve"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

var checkSettingsPath string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a settings file without starting the gateway",
	Long: `Check loads the cluster settings file, applies defaults, and runs the
same validation the serve command runs at startup. Backend kinds are resolved
so an unknown credential or transfer type fails here instead of at runtime.

Example:
  hpcbridge check --settings settings.yaml`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkSettingsPath, "settings", "settings.yaml", "Path to the cluster settings file")
}

func runCheck(cmd *cobra.Command, args []string) error {
	st, err := settings.Load(checkSettingsPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load settings",
			zap.String("path", checkSettingsPath),
			zap.Error(err))
		return err
	}
	if _, err := resolve.CredentialProvider(st.SSHCredential); err != nil {
		return err
	}

	fmt.Printf("settings ok: %d cluster(s)\n", len(st.Clusters))
	for _, c := range st.Clusters {
		fmt.Printf("  %s scheduler=%s host=%s filesystems=%d\n",
			c.Name, c.Scheduler.Type, c.SSH.Host, len(c.FileSystems))
	}
	return nil
}
