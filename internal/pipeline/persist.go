package pipeline

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"netwatch/internal/probe"
	"netwatch/internal/route"
	"netwatch/internal/storage"
)

// persistGeneral runs the persist sub-protocol's steps 1-5 (§4.3.1) for
// one probed draft and returns its HostHistory id.
func persistGeneral(store *storage.Store, scanID int64, d HostDraft, svc *probe.ServiceScanResult) (int64, error) {
	host, err := resolveHost(store, d.IP, d.Network)
	if err != nil {
		return 0, errors.Wrap(err, "resolving host identity")
	}

	hist, reused, err := resolveHostHistory(store, scanID, host.ID, d.IP, svc.OSName)
	if err != nil {
		return 0, errors.Wrap(err, "resolving host history")
	}
	if reused {
		hist.OS = observedOS(svc.OSName)
		if err := hist.Save(store); err != nil {
			return 0, errors.Wrap(err, "updating host history os")
		}
	}

	if err := persistRouting(store, scanID, d.IP, hist.ID, d.RouteResult); err != nil {
		return hist.ID, errors.Wrap(err, "snapshotting routing")
	}

	if err := persistPorts(store, scanID, hist.ID, svc); err != nil {
		return hist.ID, errors.Wrap(err, "snapshotting ports")
	}

	return hist.ID, nil
}

func resolveHost(store *storage.Store, ip, network string) (*storage.Host, error) {
	h, err := store.LoadHostByIP(ip)
	if err == nil {
		return h, nil
	}
	if err != storage.ErrNotFound {
		return nil, err
	}

	h = &storage.Host{
		IP:      ip,
		Network: network,
		Comment: fmt.Sprintf("First seen on %s", time.Now().UTC().Format(time.RFC3339)),
	}
	if err := h.Save(store); err != nil {
		return nil, err
	}
	return h, nil
}

func resolveHostHistory(store *storage.Store, scan, hostID int64, ip, osName string) (*storage.HostHistory, bool, error) {
	hist, err := store.LoadHostHistoryByScanAndIP(scan, ip)
	if err == nil {
		return hist, true, nil
	}
	if err != storage.ErrNotFound {
		return nil, false, err
	}

	hist = &storage.HostHistory{HostID: hostID, OS: observedOS(osName), Scan: scan}
	if err := hist.Save(store); err != nil {
		return nil, false, err
	}
	return hist, false, nil
}

func observedOS(osName string) string {
	if osName == "" {
		return "Unknown"
	}
	return osName
}

// persistRouting snapshots every hop in rr except the target itself,
// resolving or creating a (Host, HostHistory) pair for each hop and
// inserting a Routing edge from the target's HostHistory to it. Self-
// edges are rejected by Routing.Save itself (§3 invariant 3).
func persistRouting(store *storage.Store, scan int64, targetIP string, targetHistID int64, rr *route.Result) error {
	if rr == nil {
		return nil
	}
	for _, hop := range rr.Hops {
		if hop.IP == "" || hop.IP == targetIP {
			continue
		}
		hopHost, err := resolveHost(store, hop.IP, "")
		if err != nil {
			return err
		}
		hopHist, _, err := resolveHostHistory(store, scan, hopHost.ID, hop.IP, "")
		if err != nil {
			return err
		}
		if hopHist.ID == targetHistID {
			continue
		}
		edge := &storage.Routing{Scan: scan, Left: targetHistID, Right: hopHist.ID}
		if err := edge.Save(store); err != nil {
			return err
		}
	}
	return nil
}

// persistPorts inserts one Port row per observed service, one CVE row
// per vulnerability surfaced against it, and one ScriptScan/ScriptResult
// row per script_args-driven script output (§4.3.1 step 5).
func persistPorts(store *storage.Store, scan, histID int64, svc *probe.ServiceScanResult) error {
	for _, p := range svc.Ports {
		port := &storage.Port{
			HostHistoryID: histID,
			Port:          p.Port,
			Protocol:      protocolString(p.Protocol),
			State:         stateString(p.State),
			Service:       p.Name,
			Product:       fmt.Sprintf("%s %s", p.Product, p.Version),
		}
		if err := port.Save(store); err != nil {
			return err
		}
		for _, v := range p.Vulns {
			cve := &storage.CVE{
				Scan:          scan,
				HostHistoryID: histID,
				Port:          p.Port,
				TypeName:      v.Database,
				TypeID:        v.ID,
				CVSS:          v.CVSS,
				IsExploit:     fmt.Sprintf("%v", v.IsExploit),
			}
			if err := cve.Save(store); err != nil {
				return err
			}
		}
	}

	for _, so := range svc.Scripts {
		if err := store.RecordScriptResults(scan, histID, so.ID, so.Values); err != nil {
			return err
		}
	}
	return nil
}

func protocolString(p probe.Protocol) string {
	switch p {
	case probe.ProtoTCP:
		return "tcp"
	case probe.ProtoUDP:
		return "udp"
	default:
		return "unknown"
	}
}

func stateString(s probe.State) string {
	switch s {
	case probe.StateOpen:
		return "open"
	case probe.StateFilter:
		return "filter"
	case probe.StateClose:
		return "close"
	default:
		return "unknown"
	}
}

// persistSMB is the persist sub-protocol's step 6: the Windows umbrella
// row, at most one WindowsInfo/WindowsDomain, and N shares/printers.
func persistSMB(store *storage.Store, scan, histID int64, smb *probe.SMBResult) error {
	win := &storage.Windows{Scan: scan, HistID: histID}
	if err := win.Save(store); err != nil {
		return err
	}

	if smb.Info != nil {
		info := &storage.WindowsInfo{
			WindowsID:        win.ID,
			NativeLanManager: smb.Info.NativeLanManager,
			NativeOS:         smb.Info.NativeOS,
			OSName:           smb.Info.OSName,
			OSBuild:          smb.Info.OSBuild,
			OSRelease:        smb.Info.OSRelease,
			OSVersion:        smb.Info.OSVersion,
			Platform:         smb.Info.Platform,
			ServerType:       smb.Info.ServerType,
			ServerString:     smb.Info.ServerString,
		}
		if err := info.Save(store); err != nil {
			return err
		}
	}

	if smb.Domain != nil {
		dom := &storage.WindowsDomain{
			WindowsID:         win.ID,
			Domain:            smb.Domain.Domain,
			DNSDomain:         smb.Domain.DNSDomain,
			DerivedDomain:     smb.Domain.DerivedDomain,
			DerivedMembership: smb.Domain.DerivedMembership,
			FQDN:              smb.Domain.FQDN,
			NetbiosName:       smb.Domain.NetbiosName,
			NetbiosDomain:     smb.Domain.NetbiosDomain,
		}
		if err := dom.Save(store); err != nil {
			return err
		}
	}

	for _, sh := range smb.Shares {
		row := &storage.WindowsShare{WindowsID: win.ID, Name: sh.Name, ShareType: sh.Type, Comment: sh.Comment}
		if err := row.Save(store); err != nil {
			return err
		}
	}
	for _, pr := range smb.Printers {
		row := &storage.WindowsPrinter{WindowsID: win.ID, URI: pr.URI, Flags: pr.Flags, Description: pr.Description, Comment: pr.Comment}
		if err := row.Save(store); err != nil {
			return err
		}
	}
	return nil
}
