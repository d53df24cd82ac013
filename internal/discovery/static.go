package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Static is a discovery backend with a fixed list of hosts. It is used when
// multicast is unavailable and by tests.
type Static struct {
	// Services are announced once per Watch call.
	Services []Service
}

// ParseStatic builds a Static backend for a single "host:port" address.
func ParseStatic(name, hostPort string) (*Static, error) {
	host, portText, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, fmt.Errorf("parse static host: %w", err)
	}

	port, err := strconv.Atoi(portText)
	if err != nil {
		return nil, fmt.Errorf("parse static port %q: %w", portText, err)
	}

	return &Static{
		Services: []Service{{Name: name, Address: host, Port: port}},
	}, nil
}

// Advertise does nothing; nodes already know the address.
func (s *Static) Advertise(context.Context, string, int) (Registration, error) {
	return staticRegistration{}, nil
}

// Watch announces every configured service and then waits for ctx.
func (s *Static) Watch(ctx context.Context, _ string) (<-chan Change, error) {
	changes := make(chan Change, len(s.Services))

	for _, svc := range s.Services {
		changes <- Change{Kind: Added, Service: svc}
	}

	go func() {
		<-ctx.Done()
		close(changes)
	}()

	return changes, nil
}

// staticRegistration is the no-op handle of a static advertisement.
type staticRegistration struct{}

// Unadvertise does nothing.
func (staticRegistration) Unadvertise(context.Context) error { return nil }
