package route

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectRouteRegexExtractsCIDRAndDevice(t *testing.T) {
	m := directRE.FindStringSubmatch("192.0.2.0/24 dev eth0 proto kernel scope link src 192.0.2.5")
	require.NotNil(t, m)
	require.Equal(t, "192.0.2.0/24", m[1])
	require.Equal(t, "eth0", m[2])
	require.Equal(t, "192.0.2.5", m[3])
}

func TestDefaultRouteRegexExtractsGatewayAndDevice(t *testing.T) {
	m := defaultRE.FindStringSubmatch("default via 192.0.2.1 dev eth0")
	require.NotNil(t, m)
	require.Equal(t, "192.0.2.1", m[1])
	require.Equal(t, "eth0", m[2])
}

func TestDefaultRouteRegexRejectsDirectLine(t *testing.T) {
	require.Nil(t, defaultRE.FindStringSubmatch("192.0.2.0/24 dev eth0 scope link"))
}
