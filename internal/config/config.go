package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-quorum/internal/domain/alarm"
)

// Discovery backends understood by both binaries.
const (
	// DiscoveryMDNS advertises and browses with multicast DNS on the local link.
	DiscoveryMDNS = "mdns"
	// DiscoveryEtcd keeps the host address under a lease in etcd.
	DiscoveryEtcd = "etcd"
	// DiscoveryStatic skips discovery and dials StaticHost directly.
	DiscoveryStatic = "static"
)

// Display drivers available to nodes.
const (
	// DisplayLog prints display contents through the logger.
	DisplayLog = "log"
	// DisplayDBus posts desktop notifications over the session bus.
	DisplayDBus = "dbus"
)

// Config holds the settings shared by the alarm-host and alarm-node binaries.
type Config struct {
	// ListenAddress is the TCP address the host accepts node sessions on.
	ListenAddress string `yaml:"listen_addr"`
	// ServiceName is the advertised instance name of the host.
	ServiceName string `yaml:"service_name"`
	// ServiceType is the DNS-SD service type, without the domain.
	ServiceType string `yaml:"service_type"`
	// Discovery selects the discovery backend: mdns, etcd or static.
	Discovery string `yaml:"discovery"`
	// EtcdEndpoints lists etcd client URLs for the etcd backend.
	EtcdEndpoints []string `yaml:"etcd_endpoints,omitempty"`
	// StaticHost is the host:port nodes dial when discovery is static.
	StaticHost string `yaml:"static_host,omitempty"`
	// AdvertiseAddress is the IP the host publishes in etcd. Detected when empty.
	AdvertiseAddress string `yaml:"advertise_addr,omitempty"`
	// HeartbeatInterval is the period of heartbeat sends and supervisor scans.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// HeartbeatTimeout is the idle period after which a peer is considered gone.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	// WriteTimeout bounds a single framed write on any connection.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Alarm is the initial alarm time of the host, e.g. "07:30" or "2:10 pm".
	Alarm string `yaml:"alarm,omitempty"`
	// TriggerTolerance is how close to the alarm minute the scheduler fires.
	TriggerTolerance time.Duration `yaml:"trigger_tolerance"`
	// MetricsAddress enables the Prometheus endpoint of the host when set.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// HealthAddress enables the gRPC health service of the host when set.
	HealthAddress string `yaml:"health_addr,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is console or json.
	LogFormat string `yaml:"log_format"`
	// NodeID identifies a node in heartbeat payloads. Random when empty.
	NodeID string `yaml:"node_id,omitempty"`
	// Display selects the node display driver: log or dbus.
	Display string `yaml:"display"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "alarm-quorum-settings.yaml"

	// DefaultListenAddress is the port nodes expect the host on.
	DefaultListenAddress = ":5001"

	// DefaultServiceName is the advertised host instance name.
	DefaultServiceName = "AlarmHostService"

	// DefaultServiceType is the DNS-SD service type of the host.
	DefaultServiceType = "_alarmhost._tcp"

	// DefaultHeartbeatInterval is the heartbeat period on both sides.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultHeartbeatTimeout is the idle period before eviction or self-disconnect.
	DefaultHeartbeatTimeout = 15 * time.Second

	// DefaultWriteTimeout bounds framed writes.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultTriggerTolerance matches the one-second window of the scheduler.
	DefaultTriggerTolerance = time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errTimeoutTooShort is returned when the heartbeat timeout does not exceed the interval.
	errTimeoutTooShort = errors.New("heartbeat timeout must exceed heartbeat interval")
	// errUnknownDiscovery is returned for an unsupported discovery backend.
	errUnknownDiscovery = errors.New("unknown discovery backend")
	// errStaticHostRequired is returned when static discovery has no address.
	errStaticHostRequired = errors.New("static discovery requires static_host")
	// errEtcdEndpointsRequired is returned when etcd discovery has no endpoints.
	errEtcdEndpointsRequired = errors.New("etcd discovery requires etcd_endpoints")
	// errUnknownDisplay is returned for an unsupported display driver.
	errUnknownDisplay = errors.New("unknown display driver")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns validated defaults when the
// file does not exist, so both binaries run without any settings file.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = new(Config)
	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the provided settings for consistency.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	applyDefaults(settings)

	if _, err := net.ResolveTCPAddr("tcp", settings.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if settings.HeartbeatTimeout <= settings.HeartbeatInterval {
		return errTimeoutTooShort
	}

	switch settings.Discovery {
	case DiscoveryMDNS:
	case DiscoveryStatic:
		if settings.StaticHost == "" {
			return errStaticHostRequired
		}

		if _, _, err := net.SplitHostPort(settings.StaticHost); err != nil {
			return fmt.Errorf("invalid static host: %w", err)
		}
	case DiscoveryEtcd:
		if len(settings.EtcdEndpoints) == 0 {
			return errEtcdEndpointsRequired
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownDiscovery, settings.Discovery)
	}

	if settings.AdvertiseAddress != "" && net.ParseIP(settings.AdvertiseAddress) == nil {
		return fmt.Errorf("invalid advertise address %q", settings.AdvertiseAddress)
	}

	if settings.Alarm != "" {
		if _, err := alarm.Parse(settings.Alarm); err != nil {
			return fmt.Errorf("invalid alarm: %w", err)
		}
	}

	switch settings.Display {
	case DisplayLog, DisplayDBus:
	default:
		return fmt.Errorf("%w: %q", errUnknownDisplay, settings.Display)
	}

	return nil
}

// applyDefaults sets every unset field to its documented default.
func applyDefaults(settings *Config) {
	if settings.ListenAddress == "" {
		settings.ListenAddress = DefaultListenAddress
	}

	if settings.ServiceName == "" {
		settings.ServiceName = DefaultServiceName
	}

	if settings.ServiceType == "" {
		settings.ServiceType = DefaultServiceType
	}

	settings.Discovery = strings.ToLower(strings.TrimSpace(settings.Discovery))
	if settings.Discovery == "" {
		settings.Discovery = DiscoveryMDNS
	}

	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if settings.HeartbeatTimeout <= 0 {
		settings.HeartbeatTimeout = DefaultHeartbeatTimeout
	}

	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = DefaultWriteTimeout
	}

	if settings.TriggerTolerance <= 0 {
		settings.TriggerTolerance = DefaultTriggerTolerance
	}

	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}

	if settings.LogFormat == "" {
		settings.LogFormat = "console"
	}

	settings.Display = strings.ToLower(strings.TrimSpace(settings.Display))
	if settings.Display == "" {
		settings.Display = DisplayLog
	}
}
