package probe

import (
	"testing"

	nmap "github.com/lair-framework/go-nmap"
	"github.com/stretchr/testify/require"
)

func TestParseProtocolAndState(t *testing.T) {
	require.Equal(t, ProtoTCP, parseProtocol("tcp"))
	require.Equal(t, ProtoUDP, parseProtocol("udp"))
	require.Equal(t, ProtoUnknown, parseProtocol("sctp"))

	require.Equal(t, StateOpen, parseState("open"))
	require.Equal(t, StateFilter, parseState("filter"))
	require.Equal(t, StateClose, parseState("close"))
	require.Equal(t, StateUnknown, parseState("open|filtered"))
}

func TestFirstOSMatchWins(t *testing.T) {
	h := &nmap.Host{Os: nmap.Os{OsMatches: []nmap.OsMatch{
		{Name: "Linux 5.x"},
		{Name: "Linux 4.x"},
	}}}
	require.Equal(t, "Linux 5.x", firstOSMatch(h))
}

func TestFirstOSMatchEmpty(t *testing.T) {
	h := &nmap.Host{}
	require.Equal(t, "", firstOSMatch(h))
}

func TestVulnersVulnsExtractsCVEFields(t *testing.T) {
	sc := &nmap.Script{
		Id: "vulners",
		Tables: []nmap.Table{
			{Tables: []nmap.Table{
				{Key: "CVE-2021-1234", Elements: []nmap.Element{
					{Key: "type", Value: "cve"},
					{Key: "cvss", Value: "9.8"},
					{Key: "is_exploit", Value: "true"},
				}},
				{Key: "CVE-2020-5678", Elements: []nmap.Element{
					{Key: "type", Value: "cve"},
					{Key: "cvss", Value: "4.3"},
					{Key: "is_exploit", Value: "false"},
				}},
			}},
		},
	}

	vulns := vulnersVulns(sc)
	require.Len(t, vulns, 2)
	require.Equal(t, "CVE-2021-1234", vulns[0].ID)
	require.Equal(t, 9.8, vulns[0].CVSS)
	require.True(t, vulns[0].IsExploit)
	require.Equal(t, "CVE-2020-5678", vulns[1].ID)
	require.False(t, vulns[1].IsExploit)
}

func TestAddressesSplitsByType(t *testing.T) {
	h := &nmap.Host{Addresses: []nmap.Address{
		{Addr: "aa:bb:cc:dd:ee:ff", AddrType: "mac"},
		{Addr: "192.0.2.5", AddrType: "ipv4"},
	}}
	mac, ip := addresses(h)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", mac)
	require.Equal(t, "192.0.2.5", ip)
}
