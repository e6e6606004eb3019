package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTracerouteSkipsTimeoutsAndAnnotations(t *testing.T) {
	output := `traceroute to 192.0.2.9 (192.0.2.9), 15 hops max
 1  192.0.2.1  1.234 ms
 2  * * *
 3  192.0.2.5  4.2 ms
 4  192.0.2.9  5.1 ms !H
`
	hops := parseTraceroute(output)
	require.Len(t, hops, 2)
	require.Equal(t, Hop{Num: 1, IP: "192.0.2.1"}, hops[0])
	require.Equal(t, Hop{Num: 3, IP: "192.0.2.5"}, hops[1])
}

func TestParseTracerouteEmpty(t *testing.T) {
	require.Nil(t, parseTraceroute(""))
}
