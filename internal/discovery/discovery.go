package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ChangeKind tells whether a service appeared or vanished.
type ChangeKind int

const (
	// Added means the service became reachable.
	Added ChangeKind = iota + 1
	// Removed means the service is gone. Only Name is guaranteed to be set.
	Removed
)

// String returns a lower-case label for logs.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Service is an advertised host endpoint.
type Service struct {
	// Name is the advertised instance name.
	Name string
	// Address is an IP address or resolvable host name.
	Address string
	// Port is the TCP port.
	Port int
}

// HostPort returns the dialable "address:port" form.
func (s Service) HostPort() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Change is a single discovery notification.
type Change struct {
	// Kind is Added or Removed.
	Kind ChangeKind
	// Service describes the host.
	Service Service
}

// Registration is the handle of an advertisement.
type Registration interface {
	// Unadvertise withdraws the advertisement. It is idempotent.
	Unadvertise(ctx context.Context) error
}

// Advertiser publishes the host on the network.
type Advertiser interface {
	Advertise(ctx context.Context, name string, port int) (Registration, error)
}

// Watcher reports hosts appearing and vanishing. The returned channel is
// closed once ctx is done or the watch cannot continue.
type Watcher interface {
	Watch(ctx context.Context, serviceType string) (<-chan Change, error)
}

// changeBuffer is the capacity of change channels.
const changeBuffer = 16

var (
	// ErrNoAddress is returned when no usable local address is found.
	ErrNoAddress = errors.New("no usable local address")
)

// OutboundIP returns the local address used to reach other hosts. No packets
// are sent: connecting a UDP socket only selects a route.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoAddress, err)
	}

	defer func() {
		_ = conn.Close()
	}()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return "", ErrNoAddress
	}

	return addr.IP.String(), nil
}

// send delivers a change unless ctx is done first.
func send(ctx context.Context, changes chan<- Change, change Change) bool {
	select {
	case changes <- change:
		return true
	case <-ctx.Done():
		return false
	}
}
