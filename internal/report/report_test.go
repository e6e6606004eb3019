package report

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"netwatch/internal/storage"
)

var (
	sharedStoreOnce sync.Once
	sharedStore     *storage.Store
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	sharedStoreOnce.Do(func() {
		dir, err := os.MkdirTemp("", "netwatch-report-test")
		require.NoError(t, err)
		sharedStore, err = storage.Open("netwatch-report-test", filepath.Join(dir, "test.db"), "")
		require.NoError(t, err)
	})
	return sharedStore
}

func seedHost(t *testing.T, store *storage.Store, scan int64, ip, network, os string) *storage.Host {
	t.Helper()
	h := &storage.Host{Network: network, IP: ip}
	require.NoError(t, h.Save(store))

	hh := &storage.HostHistory{HostID: h.ID, OS: os, Scan: scan}
	require.NoError(t, hh.Save(store))

	h.HistID = hh.ID
	h.OS = os
	return h
}

func TestBuildCSVFormatsRowsAndFallsBackToZeroGateway(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))

	h := seedHost(t, store, scan.ID, "192.0.2.30", "192.0.2.0/24", "Linux")

	p := &storage.Port{HostHistoryID: h.HistID, Port: 22, Protocol: "tcp", State: "open", Service: "ssh"}
	require.NoError(t, p.Save(store))

	out, err := BuildCSV(store, "192.0.2.0/24", scan.ID)
	require.NoError(t, err)
	require.Contains(t, out, CSVHeader)
	require.Contains(t, out, "192.0.2.30;192.0.2.0/24;0.0.0.0;Linux;TCP/22")
}

func TestBuildCSVResolvesGatewayFromRouting(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))

	gw := seedHost(t, store, scan.ID, "192.0.2.31", "192.0.2.0/24", "")
	target := seedHost(t, store, scan.ID, "192.0.2.32", "192.0.2.0/24", "Linux")

	edge := &storage.Routing{Scan: scan.ID, Left: target.HistID, Right: gw.HistID}
	require.NoError(t, edge.Save(store))

	out, err := BuildCSV(store, "192.0.2.0/24", scan.ID)
	require.NoError(t, err)
	require.Contains(t, out, "192.0.2.32;192.0.2.0/24;192.0.2.31;Linux;")
}

func TestBuildPDFHostGroupsVulnsByDatabaseSortedCVSSDesc(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))

	h := seedHost(t, store, scan.ID, "192.0.2.33", "192.0.2.0/24", "Linux")

	low := &storage.CVE{Scan: scan.ID, HostHistoryID: h.HistID, Port: 80, TypeName: "vulners", TypeID: "CVE-2020-0001", CVSS: 3.1}
	high := &storage.CVE{Scan: scan.ID, HostHistoryID: h.HistID, Port: 80, TypeName: "vulners", TypeID: "CVE-2020-0002", CVSS: 9.8}
	require.NoError(t, low.Save(store))
	require.NoError(t, high.Save(store))

	pdf, err := BuildPDFHost(store, h, scan.ID)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.33", pdf.Header.IP)
	require.Equal(t, "0.0.0.0", pdf.Header.Gateway)
	require.Len(t, pdf.Vulns, 1)
	require.Equal(t, "vulners", pdf.Vulns[0].Database)
	require.Len(t, pdf.Vulns[0].Vulns, 2)
	require.Equal(t, "CVE-2020-0002", pdf.Vulns[0].Vulns[0].TypeID)
}

func TestBuildPDFHostIncludesWindowsBlocksWhenPresent(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))

	h := seedHost(t, store, scan.ID, "192.0.2.34", "192.0.2.0/24", "Windows")

	win := &storage.Windows{Scan: scan.ID, HistID: h.HistID}
	require.NoError(t, win.Save(store))

	info := &storage.WindowsInfo{WindowsID: win.ID, OSName: "Windows Server 2019"}
	require.NoError(t, info.Save(store))

	share := &storage.WindowsShare{WindowsID: win.ID, Name: "C$", ShareType: "Disk"}
	require.NoError(t, share.Save(store))

	pdf, err := BuildPDFHost(store, h, scan.ID)
	require.NoError(t, err)
	require.NotNil(t, pdf.Info)
	require.Equal(t, "Windows Server 2019", pdf.Info.OSName)
	require.Len(t, pdf.Shares, 1)
	require.Nil(t, pdf.Domain)
}
