package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"netwatch/internal/probe"
	"netwatch/internal/storage"
)

// The schema migration guard in storage.Open is process-global by
// design (§4.4): only the first Open() in this test binary actually
// runs the CREATE TABLE statements. So, unlike the storage package's
// own tests (which can reach into its unexported initOnce), tests here
// share a single Store opened once for the whole package.
var (
	sharedStoreOnce sync.Once
	sharedStore     *storage.Store
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	sharedStoreOnce.Do(func() {
		dir, err := os.MkdirTemp("", "netwatch-pipeline-test")
		require.NoError(t, err)
		sharedStore, err = storage.Open("netwatch-pipeline-test", filepath.Join(dir, "test.db"), "")
		require.NoError(t, err)
	})
	return sharedStore
}

func TestPersistGeneralCreatesHostAndHistory(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))

	svc := &probe.ServiceScanResult{OSName: "Linux", Ports: []probe.ServicePort{
		{Port: 22, Protocol: probe.ProtoTCP, State: probe.StateOpen, Name: "ssh"},
	}}
	d := HostDraft{Network: "192.0.2.0/24", IP: "192.0.2.20"}

	histID, err := persistGeneral(store, scan.ID, d, svc)
	require.NoError(t, err)
	require.Greater(t, histID, int64(0))

	host, err := store.LoadHostByIP("192.0.2.20")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.0/24", host.Network)

	ports, err := store.PortsForHistory(histID)
	require.NoError(t, err)
	require.Len(t, ports, 1)
	require.Equal(t, "open", ports[0].State)
}

func TestPersistGeneralReusesHistoryAndUpdatesOS(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))

	d := HostDraft{IP: "192.0.2.21"}
	first, err := persistGeneral(store, scan.ID, d, &probe.ServiceScanResult{OSName: "Linux"})
	require.NoError(t, err)

	second, err := persistGeneral(store, scan.ID, d, &probe.ServiceScanResult{OSName: "Windows"})
	require.NoError(t, err)
	require.Equal(t, first, second)

	hist, err := store.LoadHostHistory(second)
	require.NoError(t, err)
	require.Equal(t, "Windows", hist.OS)
}

func TestPersistPortsInsertsCVEsPerVuln(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))
	h := &storage.Host{IP: "192.0.2.22"}
	require.NoError(t, h.Save(store))
	hist := &storage.HostHistory{HostID: h.ID, Scan: scan.ID, OS: "Linux"}
	require.NoError(t, hist.Save(store))

	svc := &probe.ServiceScanResult{Ports: []probe.ServicePort{
		{Port: 443, Protocol: probe.ProtoTCP, State: probe.StateOpen, Name: "https", Vulns: []probe.Vuln{
			{ID: "CVE-2021-1111", Database: "cve", CVSS: 9.1, IsExploit: true},
		}},
	}}
	require.NoError(t, persistPorts(store, scan.ID, hist.ID, svc))

	cves, err := store.CVEsForHistory(hist.ID)
	require.NoError(t, err)
	require.Len(t, cves, 1)
	require.Equal(t, "CVE-2021-1111", cves[0].TypeID)
	require.Equal(t, 9.1, cves[0].CVSS)
}

func TestPersistSMBInsertsUmbrellaAndChildren(t *testing.T) {
	store := openTestStore(t)

	scan := storage.NewScan()
	require.NoError(t, scan.Save(store))
	h := &storage.Host{IP: "192.0.2.23"}
	require.NoError(t, h.Save(store))
	hist := &storage.HostHistory{HostID: h.ID, Scan: scan.ID, OS: "Windows"}
	require.NoError(t, hist.Save(store))

	smb := &probe.SMBResult{
		Info:   &probe.WindowsInfo{OSName: "Windows Server 2019"},
		Domain: &probe.WindowsDomain{Domain: "CORP"},
		Shares: []probe.WindowsShare{{Name: "data", Type: "Disk"}},
	}
	require.NoError(t, persistSMB(store, scan.ID, hist.ID, smb))

	win, err := store.WindowsByHistID(hist.ID)
	require.NoError(t, err)

	info, err := store.WindowsInfoByWindowsID(win.ID)
	require.NoError(t, err)
	require.Equal(t, "Windows Server 2019", info.OSName)

	shares, err := store.WindowsSharesByWindowsID(win.ID)
	require.NoError(t, err)
	require.Len(t, shares, 1)
}
