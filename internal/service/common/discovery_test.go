//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-quorum/internal/config"
	"github.com/oshokin/alarm-quorum/internal/discovery"
)

// TestOpenDiscovery picks the backend from settings and the static override.
func TestOpenDiscovery(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	require.NoError(t, config.Validate(cfg))

	d, err := OpenDiscovery(cfg, "")
	require.NoError(t, err)
	require.IsType(t, &discovery.MDNS{}, d.Watcher)
	require.NoError(t, d.Close())

	d, err = OpenDiscovery(cfg, "192.168.1.10:5001")
	require.NoError(t, err)

	static, ok := d.Watcher.(*discovery.Static)
	require.True(t, ok)
	require.Equal(t, []discovery.Service{
		{Name: config.DefaultServiceName, Address: "192.168.1.10", Port: 5001},
	}, static.Services)

	_, err = OpenDiscovery(cfg, "no-port")
	require.Error(t, err)

	cfg.Discovery = "carrier-pigeon"
	_, err = OpenDiscovery(cfg, "")
	require.Error(t, err)
}
