package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/internal/config"
	"github.com/hpcbridge/hpcbridge/internal/observability"
	"github.com/hpcbridge/hpcbridge/internal/server"
	"github.com/hpcbridge/hpcbridge/pkg/authn"
	"github.com/hpcbridge/hpcbridge/pkg/health"
	"github.com/hpcbridge/hpcbridge/pkg/resolve"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
)

var serveSettingsPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Serve starts the HTTP API, the per-cluster health check cycles, and the
idle SSH session pruner. It runs until interrupted and then drains in-flight
requests.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveSettingsPath, "settings", "", "Path to the cluster settings file (overrides config)")
}

// prunePeriod is how often idle SSH sessions are evicted across all pools.
const prunePeriod = 30 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return err
	}

	settingsPath := cfg.Settings.Path
	if serveSettingsPath != "" {
		settingsPath = serveSettingsPath
	}

	st, err := settings.Load(settingsPath)
	if err != nil {
		logger.Error("Failed to load settings",
			zap.String("path", settingsPath),
			zap.Error(err))
		return err
	}

	verifier, err := authn.NewVerifier(ctx, st.Auth.Authentication, logger)
	if err != nil {
		logger.Error("Failed to build token verifier", zap.Error(err))
		return err
	}
	logger.Info("token verifier ready", zap.Int("keys", verifier.KeyCount()))

	provider, err := resolve.CredentialProvider(st.SSHCredential)
	if err != nil {
		return err
	}

	table := health.NewTable()
	registry := sshpool.NewRegistry(st, provider, table.CheckSSH)

	for _, cluster := range st.Clusters {
		checker := health.NewChecker(cluster, st.Auth.Authentication, st.DataOperation.DataTransfer, registry, verifier, table, logger)
		go runHealthCycles(ctx, cluster, checker, logger)
	}

	go runPruner(ctx, registry)

	srv := server.New(cfg.Server, server.Deps{
		Settings: st,
		Verifier: verifier,
		Table:    table,
		Registry: registry,
		Logger:   logger,
	})
	return srv.Run(ctx)
}

// runHealthCycles runs one cluster's check cycle immediately and then on its
// configured interval until ctx is canceled.
func runHealthCycles(ctx context.Context, cluster *settings.Cluster, checker *health.Checker, logger *zap.Logger) {
	cycle := func() {
		if err := checker.RunCycle(ctx); err != nil {
			logger.Warn("health cycle failed",
				zap.String("cluster", cluster.Name),
				zap.Error(err))
		}
	}

	cycle()
	ticker := time.NewTicker(cluster.Probing.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		}
	}
}

// runPruner evicts idle SSH sessions across all pools until ctx is canceled.
func runPruner(ctx context.Context, registry *sshpool.Registry) {
	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.PruneAll()
		}
	}
}
