package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/oshokin/alarm-quorum/internal/api/grpc/health"
	"github.com/oshokin/alarm-quorum/internal/config"
	"github.com/oshokin/alarm-quorum/internal/domain/alarm"
	"github.com/oshokin/alarm-quorum/internal/host"
	"github.com/oshokin/alarm-quorum/internal/logger"
	"github.com/oshokin/alarm-quorum/internal/service/common"
	"github.com/oshokin/alarm-quorum/internal/version"
)

// Options controls the alarm-host process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the node listener address from the settings.
	ListenAddress string
	// Alarm overrides the initial alarm from the settings.
	Alarm string
}

// metricsNamespace prefixes the build_info gauge.
const metricsNamespace = "alarm_quorum"

// ErrNoListenPort is returned when the node listener has no TCP port to advertise.
var ErrNoListenPort = errors.New("listener has no TCP port")

// Run starts the host and blocks until ctx is canceled.
// Loads configuration first, then applies command line overrides.
//
//nolint:funlen // Sequential process wiring reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	// Load configuration; a missing file means defaults.
	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	// The logger follows the settings, so name it afterwards.
	logger.Configure(settings.LogLevel, settings.LogFormat)
	ctx = logger.WithName(ctx, "alarm-host")
	logger.InfoKV(ctx, "Starting alarm host", version.Fields()...)

	initial, err := initialAlarm(settings.Alarm)
	if err != nil {
		return err
	}

	// Metrics registry shared by the host and the admin endpoint.
	registry := newMetricsRegistry()

	h := host.New(host.Options{
		HeartbeatInterval: settings.HeartbeatInterval,
		HeartbeatTimeout:  settings.HeartbeatTimeout,
		WriteTimeout:      settings.WriteTimeout,
		TriggerTolerance:  settings.TriggerTolerance,
		Alarm:             initial,
		Metrics:           host.NewMetrics(registry),
	})

	// Side servers are optional and stop after the host.
	sideCtx, stopSide := context.WithCancel(ctx)

	var side sync.WaitGroup

	defer func() {
		stopSide()
		side.Wait()
	}()

	healthServer, err := startSideServers(sideCtx, &side, settings, h, registry)
	if err != nil {
		return err
	}

	// Setup TCP listener for node sessions.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", settings.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.ListenAddress, err)
	}

	tcpAddr, ok := lis.Addr().(*net.TCPAddr)
	if !ok {
		_ = lis.Close()

		return ErrNoListenPort
	}

	// Advertise the host so nodes can find it.
	backend, err := common.OpenDiscovery(settings, "")
	if err != nil {
		_ = lis.Close()

		return fmt.Errorf("open discovery: %w", err)
	}

	defer func() {
		if err := backend.Close(); err != nil {
			logger.WarnKV(ctx, "Closing discovery failed", "error", err)
		}
	}()

	registration, err := backend.Advertise(ctx, settings.ServiceName, tcpAddr.Port)
	if err != nil {
		_ = lis.Close()

		return fmt.Errorf("advertise host: %w", err)
	}

	defer func() {
		if err := registration.Unadvertise(context.WithoutCancel(ctx)); err != nil {
			logger.WarnKV(ctx, "Withdrawing advertisement failed", "error", err)
		}
	}()

	logger.InfoKV(ctx, "Alarm host listening",
		"listen_address", lis.Addr().String(),
		"service_name", settings.ServiceName,
		"discovery", settings.Discovery,
		"alarm", settings.Alarm,
	)

	if healthServer != nil {
		healthServer.SetServing(true)
	}

	err = h.Serve(ctx, lis)

	if healthServer != nil {
		healthServer.SetServing(false)
	}

	if err != nil {
		return fmt.Errorf("serve nodes: %w", err)
	}

	logger.Info(ctx, "Alarm host stopped")

	return nil
}

// loadSettings reads the settings file and applies the command line overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.ListenAddress != "" {
		settings.ListenAddress = opts.ListenAddress
	}

	if opts.Alarm != "" {
		settings.Alarm = opts.Alarm
	}

	// Overrides have to pass the same checks as the file.
	if err := config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return settings, nil
}

// initialAlarm parses the configured alarm; empty means none.
func initialAlarm(value string) (*alarm.Alarm, error) {
	if value == "" {
		return nil, nil //nolint:nilnil // No alarm is a valid configuration.
	}

	a, err := alarm.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("parse alarm: %w", err)
	}

	return &a, nil
}

// newMetricsRegistry returns a registry with the runtime and build collectors.
func newMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		version.Collector(metricsNamespace),
	)

	return registry
}

// startSideServers starts the admin and health endpoints that are configured.
// It returns the health server, or nil when health_addr is empty.
func startSideServers(
	ctx context.Context,
	wg *sync.WaitGroup,
	settings *config.Config,
	h *host.Host,
	registry *prometheus.Registry,
) (*health.Server, error) {
	lc := net.ListenConfig{}

	if settings.MetricsAddress != "" {
		lis, err := lc.Listen(ctx, "tcp", settings.MetricsAddress)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", settings.MetricsAddress, err)
		}

		router := newAdminRouter(h, registry)

		wg.Go(func() {
			if err := serveAdmin(ctx, lis, router); err != nil {
				logger.ErrorKV(ctx, "Admin server failed", "error", err)
			}
		})
	}

	if settings.HealthAddress == "" {
		return nil, nil //nolint:nilnil // Health checks are optional.
	}

	lis, err := lc.Listen(ctx, "tcp", settings.HealthAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", settings.HealthAddress, err)
	}

	healthServer := health.NewServer()

	wg.Go(func() {
		if err := healthServer.Serve(ctx, lis); err != nil {
			logger.ErrorKV(ctx, "Health server failed", "error", err)
		}
	})

	return healthServer, nil
}
