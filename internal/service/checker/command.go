package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/alarm-quorum/internal/config"
	"github.com/oshokin/alarm-quorum/internal/logger"
)

// Options controls the checker polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// HealthAddress overrides health_addr from the settings.
	HealthAddress string
	// AdminAddress overrides metrics_addr from the settings.
	AdminAddress string
	// PollInterval defines the interval between checks.
	PollInterval time.Duration
	// Once checks a single time and fails when the host is unhealthy.
	Once bool
}

// DefaultPollInterval defines the polling interval when none is given.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrNothingToCheck is returned when neither endpoint is configured.
	ErrNothingToCheck = errors.New("neither health_addr nor metrics_addr is configured")
	// ErrHostUnhealthy is returned by a single check of a host that is not serving.
	ErrHostUnhealthy = errors.New("alarm host is not serving")
)

// Run polls the host's health and admin endpoints and logs what it sees.
// With Once set it checks a single time, which suits service probes.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-checker")

	// Load settings from configuration file; a missing file means defaults.
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	// Command line addresses override the settings.
	healthAddress := cfg.HealthAddress
	if opts.HealthAddress != "" {
		healthAddress = opts.HealthAddress
	}

	adminAddress := cfg.MetricsAddress
	if opts.AdminAddress != "" {
		adminAddress = opts.AdminAddress
	}

	if healthAddress == "" && adminAddress == "" {
		return ErrNothingToCheck
	}

	p, err := newProbe(healthAddress, adminAddress, cfg.WriteTimeout)
	if err != nil {
		return err
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = p.Close()
	}()

	if opts.Once {
		report, err := p.check(ctx)
		if err != nil {
			return err
		}

		logReport(ctx, report)

		if !report.Healthy() {
			return ErrHostUnhealthy
		}

		return nil
	}

	logger.InfoKV(ctx, "Polling alarm host",
		"health_address", healthAddress,
		"admin_address", adminAddress,
		"interval", opts.PollInterval.String(),
	)

	// Setup polling ticker with fixed interval.
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	// Main polling loop until context cancellation.
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")

			return nil
		case <-ticker.C:
			report, err := p.check(ctx)
			if err != nil {
				logger.ErrorKV(ctx, "Check failed", "error", err)

				continue
			}

			logReport(ctx, report)
		}
	}
}

// logReport writes one line per probe round.
func logReport(ctx context.Context, report Report) {
	kvs := make([]any, 0, 12)

	if report.Serving != nil {
		kvs = append(kvs, "serving", *report.Serving)
	}

	if status := report.Alarm; status != nil {
		kvs = append(kvs,
			"alarm", status.Alarm,
			"active", status.Active,
			"acknowledged", len(status.Acknowledged),
			"members", len(status.Members),
		)

		if status.NextTrigger != nil {
			kvs = append(kvs, "next_trigger", status.NextTrigger.Format(time.RFC3339))
		}
	}

	logger.InfoKV(ctx, "Alarm host state", kvs...)
}
