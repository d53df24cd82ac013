package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/oshokin/alarm-quorum/internal/logger"
)

const (
	// mdnsDomain is the multicast DNS domain.
	mdnsDomain = "local."

	// DefaultBrowseInterval is the period of mDNS browse rounds.
	DefaultBrowseInterval = 5 * time.Second

	// missedRounds is how many browse rounds a host may miss before it is reported removed.
	missedRounds = 3
)

// hostTXT marks the advertisement as the alarm host.
//
//nolint:gochecknoglobals // Constant TXT record set.
var hostTXT = []string{"role=host"}

// MDNS discovers the host with multicast DNS service discovery.
type MDNS struct {
	// ServiceType is the DNS-SD type advertised by the host, e.g. "_alarmhost._tcp".
	ServiceType string
	// BrowseInterval is the period between browse rounds.
	BrowseInterval time.Duration
}

// NewMDNS returns an mDNS backend for the given service type.
func NewMDNS(serviceType string) *MDNS {
	return &MDNS{
		ServiceType:    serviceType,
		BrowseInterval: DefaultBrowseInterval,
	}
}

// Advertise registers the host instance on every multicast interface.
func (m *MDNS) Advertise(ctx context.Context, name string, port int) (Registration, error) {
	server, err := zeroconf.Register(name, m.ServiceType, mdnsDomain, port, hostTXT, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s.%s: %w", name, m.ServiceType, err)
	}

	logger.InfoKV(ctx, "Advertised host with mDNS", "name", name, "type", m.ServiceType, "port", port)

	return &mdnsRegistration{server: server}, nil
}

// Watch browses for the service type in rounds. A host seen for the first
// time is reported added; a host missing from several rounds, or announcing
// a zero TTL, is reported removed.
func (m *MDNS) Watch(ctx context.Context, serviceType string) (<-chan Change, error) {
	// The first resolver is created eagerly so configuration errors surface here.
	resolver, err := newResolver()
	if err != nil {
		return nil, err
	}

	interval := m.BrowseInterval
	if interval <= 0 {
		interval = DefaultBrowseInterval
	}

	changes := make(chan Change, changeBuffer)

	go m.browseLoop(ctx, resolver, serviceType, interval, changes)

	return changes, nil
}

// newResolver returns an IPv4 resolver. A resolver serves a single browse.
func newResolver() (*zeroconf.Resolver, error) {
	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return nil, fmt.Errorf("create mDNS resolver: %w", err)
	}

	return resolver, nil
}

// browseLoop runs browse rounds until ctx is done.
func (m *MDNS) browseLoop(
	ctx context.Context,
	resolver *zeroconf.Resolver,
	serviceType string,
	interval time.Duration,
	changes chan<- Change,
) {
	defer close(changes)

	tracker := newPresence(interval * missedRounds)

	for ctx.Err() == nil {
		if resolver == nil {
			var err error
			if resolver, err = newResolver(); err != nil {
				logger.ErrorKV(ctx, "mDNS resolver unavailable", "error", err)
			}
		}

		roundCtx, cancel := context.WithTimeout(ctx, interval)
		entries := make(chan *zeroconf.ServiceEntry, changeBuffer)

		if resolver != nil {
			if err := resolver.Browse(roundCtx, serviceType, mdnsDomain, entries); err != nil {
				logger.ErrorKV(ctx, "mDNS browse failed", "type", serviceType, "error", err)
			} else {
				m.consume(roundCtx, entries, tracker, changes)
			}
		}

		<-roundCtx.Done()
		cancel()

		resolver = nil

		for _, svc := range tracker.expire(time.Now()) {
			if !send(ctx, changes, Change{Kind: Removed, Service: svc}) {
				return
			}
		}
	}
}

// consume turns the entries of one browse round into changes.
func (m *MDNS) consume(
	ctx context.Context,
	entries <-chan *zeroconf.ServiceEntry,
	tracker *presence,
	changes chan<- Change,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}

			svc, valid := serviceFromEntry(entry)
			if !valid {
				continue
			}

			if entry.TTL == 0 {
				if tracker.forget(svc.Name) {
					send(ctx, changes, Change{Kind: Removed, Service: svc})
				}

				continue
			}

			if tracker.observe(svc, time.Now()) {
				send(ctx, changes, Change{Kind: Added, Service: svc})
			}
		}
	}
}

// serviceFromEntry converts a browse result, preferring IPv4 addresses.
func serviceFromEntry(entry *zeroconf.ServiceEntry) (Service, bool) {
	if entry == nil || entry.Port <= 0 {
		return Service{}, false
	}

	svc := Service{
		Name: entry.Instance,
		Port: entry.Port,
	}

	switch {
	case len(entry.AddrIPv4) > 0:
		svc.Address = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		svc.Address = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		svc.Address = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Service{}, false
	}

	return svc, true
}

// presence remembers when each host was last seen.
type presence struct {
	// lifetime is how long a sighting stays valid.
	lifetime time.Duration
	// seen maps instance names to their last sighting.
	seen map[string]sighting
}

// sighting is the last observation of a host.
type sighting struct {
	service Service
	at      time.Time
}

// newPresence returns an empty tracker.
func newPresence(lifetime time.Duration) *presence {
	return &presence{
		lifetime: lifetime,
		seen:     make(map[string]sighting),
	}
}

// observe records a sighting and reports whether the host is new.
func (p *presence) observe(svc Service, now time.Time) bool {
	_, known := p.seen[svc.Name]
	p.seen[svc.Name] = sighting{service: svc, at: now}

	return !known
}

// forget drops a host and reports whether it was known.
func (p *presence) forget(name string) bool {
	_, known := p.seen[name]
	delete(p.seen, name)

	return known
}

// expire drops and returns hosts not seen within the lifetime.
func (p *presence) expire(now time.Time) []Service {
	var gone []Service

	for name, s := range p.seen {
		if now.Sub(s.at) > p.lifetime {
			gone = append(gone, s.service)
			delete(p.seen, name)
		}
	}

	return gone
}

// mdnsRegistration wraps the responder of an advertisement.
type mdnsRegistration struct {
	server *zeroconf.Server
	once   sync.Once
}

// Unadvertise sends goodbye packets and stops the responder.
func (r *mdnsRegistration) Unadvertise(context.Context) error {
	r.once.Do(r.server.Shutdown)

	return nil
}
