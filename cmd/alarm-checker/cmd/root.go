package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-quorum/internal/config"
	"github.com/oshokin/alarm-quorum/internal/service/checker"
	"github.com/oshokin/alarm-quorum/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// adminAddress overrides metrics_addr.
	adminAddress string
	// interval between checks.
	interval time.Duration
	// once checks a single time.
	once bool

	// rootCmd represents the base command for probing the alarm host.
	rootCmd = &cobra.Command{
		Use:   "alarm-checker [health-address]",
		Short: "Report the state of a running alarm host.",
		Long: `Queries the gRPC health service and the admin /alarm endpoint of the alarm host.

By default it polls every 5 seconds and logs whether the host is serving, the
current alarm, and how many connected nodes have snoozed it.
With --once it checks a single time and exits non-zero when the host is not
serving, which suits service managers and container probes.
Addresses default to health_addr and metrics_addr from the configuration file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use health address argument if provided, otherwise rely on config.
			var healthAddress string
			if len(args) > 0 {
				healthAddress = args[0]
			}

			checkerOptions := &checker.Options{
				ConfigPath:    configPath,
				HealthAddress: healthAddress,
				AdminAddress:  adminAddress,
				PollInterval:  interval,
				Once:          once,
			}

			return checker.Run(ctx, checkerOptions)
		},
	}
)

// Execute runs the alarm-checker CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVar(&adminAddress, "admin", "", "admin endpoint address, overrides metrics_addr")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", checker.DefaultPollInterval, "time between checks")
	rootCmd.Flags().BoolVar(&once, "once", false, "check once and exit non-zero when the host is not serving")
}
