package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-quorum/internal/config"
	client "github.com/oshokin/alarm-quorum/internal/service/client"
	"github.com/oshokin/alarm-quorum/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// silent keeps the buzzer quiet.
	silent bool

	// rootCmd represents the base command for running a node.
	rootCmd = &cobra.Command{
		Use:   "alarm-node [host-address]",
		Short: "Connect to the alarm host and snooze from this machine.",
		Long: `Finds the alarm host on the local network and stays connected to it.

When the host sounds the alarm, the node beeps and shows it on the display.
Press Enter to snooze; the alarm stops everywhere once every node has snoozed.

Host address can be provided as argument (e.g., 192.168.1.10:5001) to skip discovery.
The node connects once: when the host goes away the node exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use host address argument if provided, otherwise rely on discovery.
			var hostAddress string
			if len(args) > 0 {
				hostAddress = args[0]
			}

			return client.Run(ctx, &client.Options{
				ConfigPath: cfgPath,
				Host:       hostAddress,
				Silent:     silent,
			})
		},
	}
)

// Execute runs the alarm-node CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")

	// Hidden flag to mute the buzzer while testing.
	rootCmd.Flags().BoolVarP(&silent, "silent", "s", false, "do not ring the terminal bell")

	err := rootCmd.Flags().MarkHidden("silent")
	if err != nil {
		panic(err)
	}
}
