//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"net"
	"time"
)

// AlarmStatus is the body of the host's GET /alarm admin endpoint.
type AlarmStatus struct {
	// Alarm is the current alarm, empty when none is set.
	Alarm string `json:"alarm,omitempty"`
	// Active tells whether the alarm is sounding.
	Active bool `json:"active"`
	// NextTrigger is the next occurrence of the current alarm.
	NextTrigger *time.Time `json:"next_trigger,omitempty"`
	// Acknowledged lists peers that snoozed the sounding alarm.
	Acknowledged []string `json:"acknowledged"`
	// Members lists connected peers.
	Members []string `json:"members"`
}

// DialableAddress turns a listen address such as ":9090" or "0.0.0.0:9090"
// into one a local client can dial.
func DialableAddress(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}

	if host == "" || net.ParseIP(host).IsUnspecified() {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
