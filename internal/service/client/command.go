package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oshokin/alarm-quorum/internal/config"
	"github.com/oshokin/alarm-quorum/internal/device"
	"github.com/oshokin/alarm-quorum/internal/logger"
	"github.com/oshokin/alarm-quorum/internal/node"
	"github.com/oshokin/alarm-quorum/internal/service/common"
	"github.com/oshokin/alarm-quorum/internal/version"
)

// Options configures the alarm-node process.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// Host is a "host:port" address that replaces discovery when specified.
	Host string

	// Silent keeps the terminal bell quiet, used when testing on a desk.
	Silent bool
}

// notificationApp is the application name shown by desktop notifications.
const notificationApp = "alarm-quorum"

// Run discovers the host, keeps one session with it and turns stdin lines
// into snooze presses. It returns when ctx is canceled or the session ends.
//
//nolint:funlen // Sequential process wiring reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	// Load settings from configuration file; a missing file means defaults.
	settings, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// The logger follows the settings, so name it afterwards.
	logger.Configure(settings.LogLevel, settings.LogFormat)
	ctx = logger.WithName(ctx, "alarm-node")
	logger.InfoKV(ctx, "Starting alarm node", version.Fields()...)

	// One node per machine drives the buzzer.
	if err := common.EnsureSingleInstance(); err != nil {
		return err
	}

	nodeID := settings.NodeID
	if nodeID == "" {
		if nodeID, err = common.DetectNodeID(); err != nil {
			return fmt.Errorf("detect node id: %w", err)
		}
	}

	ctx = logger.WithKV(ctx, "node_id", nodeID)

	backend, err := common.OpenDiscovery(settings, opts.Host)
	if err != nil {
		return fmt.Errorf("open discovery: %w", err)
	}

	defer func() {
		if err := backend.Close(); err != nil {
			logger.WarnKV(ctx, "Closing discovery failed", "error", err)
		}
	}()

	display, closeDisplay, err := openDisplay(settings.Display)
	if err != nil {
		return err
	}

	defer closeDisplay()

	var bell io.Writer = os.Stdout
	if opts.Silent {
		bell = io.Discard
	}

	responder := device.NewResponder(display, device.NewBeeper(bell))
	defer responder.Close()

	session := node.New(node.Options{
		NodeID:            nodeID,
		HeartbeatInterval: settings.HeartbeatInterval,
		HeartbeatTimeout:  settings.HeartbeatTimeout,
		WriteTimeout:      settings.WriteTimeout,
		Subscriber:        responder,
	})

	// Stop watching once the session is over.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	changes, err := backend.Watch(watchCtx, settings.ServiceType)
	if err != nil {
		return fmt.Errorf("watch for host: %w", err)
	}

	logger.InfoKV(ctx, "Looking for alarm host",
		"service_type", settings.ServiceType,
		"discovery", settings.Discovery,
		"static_host", opts.Host,
	)

	// Stdin cannot be interrupted, so the reader is left behind on exit.
	go readSnoozes(ctx, os.Stdin, session.Snooze)

	if err := session.Run(ctx, changes); err != nil {
		return fmt.Errorf("node session: %w", err)
	}

	logger.Info(ctx, "Alarm node stopped")

	return nil
}

// openDisplay builds the configured display driver and its cleanup.
func openDisplay(driver string) (device.Display, func(), error) {
	if driver != config.DisplayDBus {
		return device.LogDisplay{}, func() {}, nil
	}

	display, err := device.NewDBusDisplay(notificationApp)
	if err != nil {
		return nil, nil, fmt.Errorf("open dbus display: %w", err)
	}

	return display, func() { _ = display.Close() }, nil
}

// readSnoozes calls snooze once per input line until r ends or ctx is done.
func readSnoozes(ctx context.Context, r io.Reader, snooze func() error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		err := snooze()

		switch {
		case err == nil:
			logger.Info(ctx, "Snooze sent")
		case errors.Is(err, node.ErrNotConnected):
			logger.Warn(ctx, "Snooze ignored, not connected to a host")
		default:
			logger.ErrorKV(ctx, "Snooze failed", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.WarnKV(ctx, "Reading snooze input failed", "error", err)
	}
}
