package storage

import (
	"time"

	"github.com/pkg/errors"
)

// maxScanRows is the literal cap carried forward from the original
// source's `LIMIT 21` on Scan.list_from_network (SPEC_FULL §ORIGINAL
// SPEC / Supplemented Features).
const maxScanRows = 21

// Scans returns every scan in which any host of network has a
// HostHistory, ordered by start_time desc, then worst-CVSS desc, then
// numeric-tail-of-ip asc, capped at 21 rows, with the "changed" flag
// computed per §4.6 and the Supplemented Features two-part rule: a scan
// is changed if it is the most recent result, or if at least one host
// present in the prior scan is absent here.
func (s *Store) Scans(network string, start, end *time.Time) ([]Scan, error) {
	from, to := windowOrDefault(start, end)

	var scans []Scan
	err := s.db.Select(&scans, `
		SELECT DISTINCT s.scan, s.start_time, s.end_time
		FROM scans AS s, hosts AS h, hosts_history AS hist
		LEFT JOIN cves AS c ON hist.id = c.host_history_id
		WHERE h.network = ? AND h.id = hist.host_id AND hist.scan = s.scan
		  AND s.start_time >= ? AND s.end_time <= ?
		ORDER BY s.start_time DESC, c.cvss DESC, CAST(substr(h.ip, instr(h.ip, '.') + 1) AS NUMERIC) ASC
		LIMIT ?`, network, from, to, maxScanRows)
	if err != nil {
		return nil, errors.Wrap(err, "listing scans")
	}

	for i := range scans {
		changed, err := s.scanChanged(network, scans[i].ID, i == 0)
		if err != nil {
			return nil, err
		}
		scans[i].Changed = changed
	}
	return scans, nil
}

func (s *Store) scanChanged(network string, scan int64, first bool) (bool, error) {
	if first {
		return true, nil
	}

	var removed []Host
	err := s.db.Select(&removed, `
		SELECT h.id, h.network, h.ipnet, h.hostname, h.ip, h.ignore, h.comment,
			hist.id AS hist_id, hist.os AS os
		FROM hosts AS h, hosts_history AS hist
		WHERE hist.scan = ? AND hist.host_id = h.id AND h.network = ?
		  AND h.id NOT IN (
			SELECT h1.id FROM hosts AS h1, hosts_history AS hist1
			WHERE hist1.scan = ? AND hist1.host_id = h1.id AND h1.network = ?
		  )`, scan-1, network, scan, network)
	if err != nil {
		return false, errors.Wrap(err, "computing changed flag")
	}
	return len(removed) > 0, nil
}

// HostsIn returns the hosts with a HostHistory in scan, one row per ip,
// ordered by worst-CVSS desc then ip asc (§4.6).
func (s *Store) HostsIn(network string, scan int64) ([]Host, error) {
	var hosts []Host
	err := s.db.Select(&hosts, `
		SELECT DISTINCT h.id, h.network, h.ipnet, h.hostname, h.ip, h.ignore, h.comment,
			hist.id AS hist_id, hist.os AS os
		FROM hosts AS h, hosts_history AS hist
		LEFT JOIN cves AS c ON hist.id = c.host_history_id
		WHERE hist.scan = ? AND hist.host_id = h.id AND h.network = ?
		GROUP BY h.ip
		ORDER BY MAX(c.cvss) DESC, CAST(substr(h.ip, instr(h.ip, '.') + 1) AS NUMERIC) ASC`,
		scan, network)
	if err != nil {
		return nil, errors.Wrap(err, "listing hosts in scan")
	}
	return hosts, nil
}

// RemovedBetween returns hosts present in scan-1 but absent in scan.
func (s *Store) RemovedBetween(network string, scan int64) ([]Host, error) {
	var hosts []Host
	err := s.db.Select(&hosts, `
		SELECT h.id, h.network, h.ipnet, h.hostname, h.ip, h.ignore, h.comment,
			hist.id AS hist_id, hist.os AS os
		FROM hosts AS h, hosts_history AS hist
		WHERE hist.scan = ? AND hist.host_id = h.id AND h.network = ?
		  AND h.id NOT IN (
			SELECT h.id FROM hosts AS h, hosts_history AS hist
			WHERE hist.scan = ? AND hist.host_id = h.id AND h.network = ?
		  )`, scan-1, network, scan, network)
	if err != nil {
		return nil, errors.Wrap(err, "listing removed hosts")
	}
	return hosts, nil
}

// FirstEmerge returns the earliest HostHistory for ip.
func (s *Store) FirstEmerge(ip string) (*HostHistory, error) {
	var hh HostHistory
	err := s.db.Get(&hh, `
		SELECT hist.id, hist.host_id, hist.os, hist.scan
		FROM hosts AS h, hosts_history AS hist
		WHERE h.ip = ? AND hist.host_id = h.id
		ORDER BY hist.scan ASC LIMIT 1`, ip)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &hh, nil
}

// LastEmerge returns the latest HostHistory for ip.
func (s *Store) LastEmerge(ip string) (*HostHistory, error) {
	var hh HostHistory
	err := s.db.Get(&hh, `
		SELECT hist.id, hist.host_id, hist.os, hist.scan
		FROM hosts AS h, hosts_history AS hist
		WHERE h.ip = ? AND hist.host_id = h.id
		ORDER BY hist.scan DESC LIMIT 1`, ip)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &hh, nil
}

// LastChange returns the most recent HostHistory (scanning backwards from
// upToScan) whose os differs from its chronological predecessor's os.
func (s *Store) LastChange(ip string, upToScan int64) (*HostHistory, error) {
	var rows []HostHistory
	err := s.db.Select(&rows, `
		SELECT hist.id, hist.host_id, hist.os, hist.scan
		FROM hosts AS h, hosts_history AS hist
		WHERE h.ip = ? AND hist.host_id = h.id AND hist.scan <= ?
		ORDER BY hist.scan DESC`, ip, upToScan)
	if err != nil {
		return nil, errors.Wrap(err, "loading change history")
	}

	last := ""
	for i := range rows {
		if last != "" && last != rows[i].OS {
			// rows is newest-first: rows[i-1] is the row where the
			// now-current os value first appears, not rows[i] (its
			// older, pre-change predecessor).
			return &rows[i-1], nil
		}
		last = rows[i].OS
	}
	return nil, ErrNotFound
}

// Gateway returns the Host (with HistID and OS taken from its HostHistory)
// on the right side of the Routing edge whose left is histID — the
// immediate next hop (§4.6, confirmed by the original's get_gateway join).
func (s *Store) Gateway(histID, scan int64) (*Host, error) {
	var h Host
	err := s.db.Get(&h, `
		SELECT h.id, h.network, h.ipnet, h.hostname, h.ip, h.ignore, h.comment,
			hist.id AS hist_id, hist.os AS os
		FROM hosts AS h, hosts_history AS hist
		WHERE hist.scan = ? AND hist.host_id = h.id
		  AND hist.id = (
			SELECT hi.id FROM hosts_history AS hi, routing AS ro
			WHERE ro.left = ? AND ro.right = hi.id
		  )`, scan, histID)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &h, nil
}

// ScanHistory returns every scan that shares the same host as histID.
func (s *Store) ScanHistory(histID int64) ([]Scan, error) {
	var scans []Scan
	err := s.db.Select(&scans, `
		SELECT s.scan, s.start_time, s.end_time
		FROM scans AS s, hosts_history AS hist
		WHERE hist.scan = s.scan AND hist.host_id IN (
			SELECT host_id FROM hosts_history WHERE id = ?
		)`, histID)
	if err != nil {
		return nil, errors.Wrap(err, "loading scan history")
	}
	return scans, nil
}
