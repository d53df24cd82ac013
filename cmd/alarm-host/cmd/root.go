package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-quorum/internal/config"
	"github.com/oshokin/alarm-quorum/internal/service/server"
	"github.com/oshokin/alarm-quorum/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// alarmTime overrides the alarm from the configuration file.
	alarmTime string

	// rootCmd represents the base command for running the alarm host.
	rootCmd = &cobra.Command{
		Use:   "alarm-host [listen-address]",
		Short: "Run the alarm host that nodes connect to.",
		Long: `Starts the alarm host that accepts node sessions and sounds the alarm.

The host advertises itself through the configured discovery backend (mDNS by
default), keeps every node session alive with heartbeats, and broadcasts the
alarm when it is due. The alarm clears only after every connected node has
pressed snooze.

Listen address can be provided as argument to override config (e.g., :5001, 0.0.0.0:6000).
The alarm can be set with --alarm as "07:30" or "2:10 pm".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				Alarm:         alarmTime,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-host CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&alarmTime, "alarm", "a", "", `alarm time, "HH:MM" or "H:MM am|pm"`)
}
