package version

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Version is the semantic version of the build, set with -ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA of the build, or "none".
	Commit = "none"
	// BuildTime is the UTC build timestamp, or "unknown".
	BuildTime = "unknown"
)

// Short returns the semantic version.
func Short() string {
	return Version
}

// Full renders the version, commit, build time and Go runtime for the CLI.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s, %s", Version, Commit, BuildTime, runtime.Version())
}

// Fields returns the build metadata as logger key-value pairs.
func Fields() []any {
	return []any{"version", Version, "commit", Commit, "built_at", BuildTime}
}

// Collector returns a constant build_info gauge labeled with the build metadata.
func Collector(namespace string) prometheus.Collector {
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information, constant 1 labeled by version and commit.",
	}, []string{"version", "commit", "go_version"})

	info.WithLabelValues(Version, Commit, runtime.Version()).Set(1)

	return info
}
