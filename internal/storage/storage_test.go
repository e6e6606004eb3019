package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Each test wants its own freshly migrated database file, but the
// "initialised" flag is process-global by design (§4.4) so production
// code only migrates once. Reset it per test rather than work around it
// in the production path.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	initOnce = sync.Once{}
	store, err := Open("netwatch-test", filepath.Join(dir, "test.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		os.Remove(filepath.Join(dir, "test.db"))
	})
	return store
}

func TestScanSaveAssignsIDAndIsInFlight(t *testing.T) {
	store := openTestStore(t)

	sc := NewScan()
	require.Equal(t, SentinelEnd, sc.EndTime)
	require.NoError(t, sc.Save(store))
	require.Greater(t, sc.ID, int64(0))

	loaded, err := store.LoadScan(sc.ID)
	require.NoError(t, err)
	require.Equal(t, sc.ID, loaded.ID)
}

func TestScanEndSetsEndTime(t *testing.T) {
	store := openTestStore(t)

	sc := NewScan()
	require.NoError(t, sc.Save(store))
	require.NoError(t, sc.End(store))
	require.True(t, sc.EndTime.Before(SentinelEnd))

	loaded, err := store.LoadScan(sc.ID)
	require.NoError(t, err)
	require.True(t, !loaded.EndTime.IsZero())
}

func TestHostPersistIdempotentLookup(t *testing.T) {
	store := openTestStore(t)

	h := &Host{IP: "192.0.2.10", Network: "192.0.2.0/24"}
	require.NoError(t, h.Save(store))

	again, err := store.LoadHostByIP("192.0.2.10")
	require.NoError(t, err)
	require.Equal(t, h.ID, again.ID)
}

func TestHostHistoryIdempotentWithinScan(t *testing.T) {
	store := openTestStore(t)

	h := &Host{IP: "192.0.2.10", Network: "192.0.2.0/24"}
	require.NoError(t, h.Save(store))

	sc := NewScan()
	require.NoError(t, sc.Save(store))

	hh := &HostHistory{HostID: h.ID, OS: "Linux", Scan: sc.ID}
	require.NoError(t, hh.Save(store))

	again, err := store.LoadHostHistoryByScanAndIP(sc.ID, h.IP)
	require.NoError(t, err)
	require.Equal(t, hh.ID, again.ID)
}

func TestRoutingRejectsSelfLoop(t *testing.T) {
	store := openTestStore(t)

	r := &Routing{Scan: 1, Left: 5, Right: 5}
	require.Error(t, r.Save(store))
}

func TestGatewayReturnsImmediateNextHop(t *testing.T) {
	store := openTestStore(t)

	sc := NewScan()
	require.NoError(t, sc.Save(store))

	mkHost := func(ip string) *HostHistory {
		h := &Host{IP: ip, Network: "192.0.2.0/24"}
		require.NoError(t, h.Save(store))
		hh := &HostHistory{HostID: h.ID, OS: "Unknown", Scan: sc.ID}
		require.NoError(t, hh.Save(store))
		return hh
	}

	a := mkHost("192.0.2.1")
	b := mkHost("192.0.2.2")
	c := mkHost("192.0.2.3")
	target := mkHost("192.0.2.4")

	require.NoError(t, (&Routing{Scan: sc.ID, Left: target.ID, Right: c.ID}).Save(store))
	require.NoError(t, (&Routing{Scan: sc.ID, Left: c.ID, Right: b.ID}).Save(store))
	require.NoError(t, (&Routing{Scan: sc.ID, Left: b.ID, Right: a.ID}).Save(store))

	gw, err := store.Gateway(target.ID, sc.ID)
	require.NoError(t, err)
	require.Equal(t, c.HostID, gw.ID)
}

func TestRemovedBetweenScans(t *testing.T) {
	store := openTestStore(t)

	const network = "192.0.2.0/24"
	h1 := &Host{IP: "192.0.2.1", Network: network}
	h2 := &Host{IP: "192.0.2.10", Network: network}
	require.NoError(t, h1.Save(store))
	require.NoError(t, h2.Save(store))

	scan1 := NewScan()
	require.NoError(t, scan1.Save(store))
	require.NoError(t, (&HostHistory{HostID: h1.ID, Scan: scan1.ID, OS: "Unknown"}).Save(store))
	require.NoError(t, (&HostHistory{HostID: h2.ID, Scan: scan1.ID, OS: "Unknown"}).Save(store))

	scan2 := NewScan()
	require.NoError(t, scan2.Save(store))
	require.NoError(t, (&HostHistory{HostID: h2.ID, Scan: scan2.ID, OS: "Unknown"}).Save(store))

	removed, err := store.RemovedBetween(network, scan2.ID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, h1.IP, removed[0].IP)
}

// TestLastChangeReturnsFirstAppearanceOfNewOS guards the off-by-one this
// function once had: given os values Windows, Linux, Linux across three
// scans (oldest to newest), the change happens between scan 1 and scan
// 2, and the row it should return is scan 2 (the first "Linux" row),
// not scan 1 (the last "Windows" row).
func TestLastChangeReturnsFirstAppearanceOfNewOS(t *testing.T) {
	store := openTestStore(t)

	h := &Host{IP: "192.0.2.9", Network: "192.0.2.0/24"}
	require.NoError(t, h.Save(store))

	mkScanWithOS := func(os string) *HostHistory {
		sc := NewScan()
		require.NoError(t, sc.Save(store))
		hh := &HostHistory{HostID: h.ID, OS: os, Scan: sc.ID}
		require.NoError(t, hh.Save(store))
		return hh
	}

	_ = mkScanWithOS("Windows")
	changed := mkScanWithOS("Linux")
	last := mkScanWithOS("Linux")

	got, err := store.LastChange(h.IP, last.Scan)
	require.NoError(t, err)
	require.Equal(t, changed.Scan, got.Scan)
	require.Equal(t, "Linux", got.OS)
}
