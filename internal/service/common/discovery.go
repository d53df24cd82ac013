//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"

	"github.com/oshokin/alarm-quorum/internal/config"
	"github.com/oshokin/alarm-quorum/internal/discovery"
)

// Discovery is the backend selected by the settings.
type Discovery struct {
	discovery.Advertiser
	discovery.Watcher

	// closer releases backend resources; nil when there are none.
	closer func() error
}

// Close releases the backend.
func (d *Discovery) Close() error {
	if d.closer == nil {
		return nil
	}

	return d.closer()
}

// OpenDiscovery builds the backend named by cfg.Discovery. A non-empty
// staticHost forces the static backend, which lets a node skip discovery.
func OpenDiscovery(cfg *config.Config, staticHost string) (*Discovery, error) {
	backend := cfg.Discovery
	if staticHost != "" {
		backend = config.DiscoveryStatic
	} else {
		staticHost = cfg.StaticHost
	}

	switch backend {
	case config.DiscoveryStatic:
		static, err := discovery.ParseStatic(cfg.ServiceName, staticHost)
		if err != nil {
			return nil, err
		}

		return &Discovery{Advertiser: static, Watcher: static}, nil
	case config.DiscoveryEtcd:
		etcd, err := discovery.NewEtcd(cfg.EtcdEndpoints, cfg.ServiceType,
			discovery.WithAdvertiseAddress(cfg.AdvertiseAddress))
		if err != nil {
			return nil, err
		}

		return &Discovery{Advertiser: etcd, Watcher: etcd, closer: etcd.Close}, nil
	case config.DiscoveryMDNS:
		mdns := discovery.NewMDNS(cfg.ServiceType)

		return &Discovery{Advertiser: mdns, Watcher: mdns}, nil
	default:
		return nil, fmt.Errorf("unsupported discovery backend %q", backend)
	}
}
