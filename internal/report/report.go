// Package report builds the CSV and PDF row projections of a scan,
// drawing only on the Temporal Query Layer's storage.Store methods
// (§6). It never renders output itself — it hands back the typed rows a
// CSV writer or PDF renderer consumes.
package report

import (
	"fmt"
	"sort"
	"strings"

	"netwatch/internal/storage"
)

// CSVHeader is the fixed header line of the CSV export (§6).
const CSVHeader = "ID;IP;Network;Parent;OS;Ports"

// CSVRow is one host row of the CSV export.
type CSVRow struct {
	ID      int64
	IP      string
	Network string
	Parent  string
	OS      string
	Ports   string
}

// String renders the row in the semicolon-separated CSV format (§6).
func (r CSVRow) String() string {
	return fmt.Sprintf("%d;%s;%s;%s;%s;%s", r.ID, r.IP, r.Network, r.Parent, r.OS, r.Ports)
}

// BuildCSV returns the full CSV document (header, then one `\n`-
// separated row per host in scan) for network/scan (§6).
func BuildCSV(store *storage.Store, network string, scan int64) (string, error) {
	hosts, err := store.HostsIn(network, scan)
	if err != nil {
		return "", err
	}

	var lines []string
	lines = append(lines, CSVHeader)
	for _, h := range hosts {
		row, err := buildCSVRow(store, h, scan)
		if err != nil {
			return "", err
		}
		lines = append(lines, row.String())
	}
	return strings.Join(lines, "\n"), nil
}

func buildCSVRow(store *storage.Store, h storage.Host, scan int64) (CSVRow, error) {
	parent := "0.0.0.0"
	if gw, err := store.Gateway(h.HistID, scan); err == nil {
		parent = gw.IP
	} else if err != storage.ErrNotFound {
		return CSVRow{}, err
	}

	ports, err := store.PortsForHistory(h.HistID)
	if err != nil {
		return CSVRow{}, err
	}
	var tokens []string
	for _, p := range ports {
		tokens = append(tokens, fmt.Sprintf("%s/%d", strings.ToUpper(p.Protocol), p.Port))
	}

	return CSVRow{
		ID:      h.ID,
		IP:      h.IP,
		Network: h.Network,
		Parent:  parent,
		OS:      h.OS,
		Ports:   strings.Join(tokens, ","),
	}, nil
}

// PDFHeader is the per-host header block of the PDF export (§6).
type PDFHeader struct {
	IP         string
	OS         string
	Gateway    string
	Network    string
	FirstSeen  bool
	LastSeen   bool
}

// VulnGroup is the vulnerabilities table grouped by database, sorted
// CVSS-desc within the group (§6).
type VulnGroup struct {
	Database string
	Vulns    []storage.CVE
}

// PDFHost is the full per-host projection the PDF export walks.
type PDFHost struct {
	Header   PDFHeader
	Ports    []storage.Port
	Info     *storage.WindowsInfo
	Domain   *storage.WindowsDomain
	Shares   []storage.WindowsShare
	Printers []storage.WindowsPrinter
	Vulns    []VulnGroup
}

// BuildPDFHost assembles the full per-host PDF projection for one
// HostHistory within scan (§6).
func BuildPDFHost(store *storage.Store, h storage.Host, scan int64) (*PDFHost, error) {
	gateway := "0.0.0.0"
	if gw, err := store.Gateway(h.HistID, scan); err == nil {
		gateway = gw.IP
	} else if err != storage.ErrNotFound {
		return nil, err
	}

	first, err := store.FirstEmerge(h.IP)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}
	last, err := store.LastEmerge(h.IP)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}

	ports, err := store.PortsForHistory(h.HistID)
	if err != nil {
		return nil, err
	}

	cves, err := store.CVEsForHistory(h.HistID)
	if err != nil {
		return nil, err
	}
	groups := groupVulnsByDatabase(cves)

	out := &PDFHost{
		Header: PDFHeader{
			IP:        h.IP,
			OS:        h.OS,
			Gateway:   gateway,
			Network:   h.Network,
			FirstSeen: first != nil && first.Scan == scan,
			LastSeen:  last != nil && last.Scan == scan,
		},
		Ports: ports,
		Vulns: groups,
	}

	win, err := store.WindowsByHistID(h.HistID)
	if err == nil {
		if info, err := store.WindowsInfoByWindowsID(win.ID); err == nil {
			out.Info = info
		}
		if dom, err := store.WindowsDomainByWindowsID(win.ID); err == nil {
			out.Domain = dom
		}
		if shares, err := store.WindowsSharesByWindowsID(win.ID); err == nil {
			out.Shares = shares
		}
		if printers, err := store.WindowsPrintersByWindowsID(win.ID); err == nil {
			out.Printers = printers
		}
	} else if err != storage.ErrNotFound {
		return nil, err
	}

	return out, nil
}

// groupVulnsByDatabase groups cves by their TypeName (NSE vuln family,
// §3) and sorts each group CVSS-desc (§6).
func groupVulnsByDatabase(cves []storage.CVE) []VulnGroup {
	byDB := make(map[string][]storage.CVE)
	var order []string
	for _, c := range cves {
		if _, seen := byDB[c.TypeName]; !seen {
			order = append(order, c.TypeName)
		}
		byDB[c.TypeName] = append(byDB[c.TypeName], c)
	}

	groups := make([]VulnGroup, 0, len(order))
	for _, db := range order {
		vulns := byDB[db]
		sort.Slice(vulns, func(i, j int) bool { return vulns[i].CVSS > vulns[j].CVSS })
		groups = append(groups, VulnGroup{Database: db, Vulns: vulns})
	}
	return groups
}
