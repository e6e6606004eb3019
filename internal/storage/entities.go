package storage

import (
	"time"

	"github.com/pkg/errors"
)

// Scan is the temporal anchor: one complete pass of the pipeline (§3).
type Scan struct {
	ID        int64     `db:"scan"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	Changed   bool      `db:"-"`
}

// NewScan returns an unsaved Scan with its end_time set to the sentinel
// far-future value, marking it "in flight" until End is called.
func NewScan() *Scan {
	return &Scan{
		StartTime: time.Now().UTC(),
		EndTime:   SentinelEnd,
	}
}

// LoadScan loads a scan by id.
func (s *Store) LoadScan(id int64) (*Scan, error) {
	var sc Scan
	err := s.db.Get(&sc, "SELECT scan, start_time, end_time FROM scans WHERE scan=?", id)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &sc, nil
}

// LastScan returns the most recently created scan, or ErrNotFound if none
// exists yet (the DHCP trigger falls back to scan id 1 in that case, §4.5).
func (s *Store) LastScan() (*Scan, error) {
	var sc Scan
	err := s.db.Get(&sc, "SELECT scan, start_time, end_time FROM scans ORDER BY scan DESC LIMIT 1")
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &sc, nil
}

// Save inserts the scan if ID<=0, else updates it in place.
func (s *Scan) Save(store *Store) error {
	tx, err := store.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if s.ID <= 0 {
		id, err := nextID(tx, "scans", "scan")
		if err != nil {
			return err
		}
		s.ID = id
		_, err = tx.Exec("INSERT INTO scans (scan,start_time,end_time) VALUES (?,?,?)",
			s.ID, s.StartTime, s.EndTime)
		if err != nil {
			return errors.Wrap(err, "inserting scan")
		}
	} else {
		_, err = tx.Exec("UPDATE scans SET start_time=?, end_time=? WHERE scan=?",
			s.StartTime, s.EndTime, s.ID)
		if err != nil {
			return errors.Wrap(err, "updating scan")
		}
	}
	return tx.Commit()
}

// End stamps end_time with now and saves, closing out the scan (§3's
// lifecycle: "closed at pipeline end, even on partial failure").
func (s *Scan) End(store *Store) error {
	s.EndTime = time.Now().UTC()
	return s.Save(store)
}

// Host is the persistent per-IP identity that survives across scans (§3).
type Host struct {
	ID       int64  `db:"id"`
	Network  string `db:"network"`
	IPNet    string `db:"ipnet"`
	Hostname string `db:"hostname"`
	IP       string `db:"ip"`
	OS       string `db:"os"`
	HistID   int64  `db:"hist_id"`
	Ignore   bool   `db:"ignore"`
	Comment  string `db:"comment"`
}

// LoadHost loads a host by surrogate id.
func (s *Store) LoadHost(id int64) (*Host, error) {
	var h Host
	err := s.db.Get(&h, `SELECT id, network, ipnet, hostname, ip, ignore, comment,
		0 AS hist_id, '' AS os FROM hosts WHERE id=?`, id)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &h, nil
}

// LoadHostByIP loads a host by its natural key.
func (s *Store) LoadHostByIP(ip string) (*Host, error) {
	var h Host
	err := s.db.Get(&h, `SELECT id, network, ipnet, hostname, ip, ignore, comment,
		0 AS hist_id, '' AS os FROM hosts WHERE ip=?`, ip)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &h, nil
}

// Save inserts the host if ID<=0, else updates it in place.
func (h *Host) Save(store *Store) error {
	tx, err := store.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if h.ID <= 0 {
		id, err := nextID(tx, "hosts", "id")
		if err != nil {
			return err
		}
		h.ID = id
		_, err = tx.Exec(`INSERT INTO hosts (id,network,ipnet,hostname,ip,ignore,comment)
			VALUES (?,?,?,?,?,?,?)`,
			h.ID, h.Network, h.IPNet, h.Hostname, h.IP, h.Ignore, h.Comment)
		if err != nil {
			return errors.Wrap(err, "inserting host")
		}
	} else {
		_, err = tx.Exec(`UPDATE hosts SET network=?, ipnet=?, hostname=?, ip=?,
			ignore=?, comment=? WHERE id=?`,
			h.Network, h.IPNet, h.Hostname, h.IP, h.Ignore, h.Comment, h.ID)
		if err != nil {
			return errors.Wrap(err, "updating host")
		}
	}
	return tx.Commit()
}

// HostHistory is the per-scan observation record of a host (§3); it is the
// anchor all other scan-time data dangles off of.
type HostHistory struct {
	ID     int64  `db:"id"`
	HostID int64  `db:"host_id"`
	OS     string `db:"os"`
	Scan   int64  `db:"scan"`
}

// LoadHostHistory loads a HostHistory row by surrogate id.
func (s *Store) LoadHostHistory(id int64) (*HostHistory, error) {
	var hh HostHistory
	err := s.db.Get(&hh, "SELECT id, host_id, os, scan FROM hosts_history WHERE id=?", id)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &hh, nil
}

// LoadHostHistoryByScanAndIP looks up the (scan, host) observation by the
// host's IP, implementing step 2 of the persist sub-protocol (§4.3.1).
func (s *Store) LoadHostHistoryByScanAndIP(scan int64, ip string) (*HostHistory, error) {
	var hh HostHistory
	err := s.db.Get(&hh, `SELECT hist.id, hist.host_id, hist.os, hist.scan
		FROM hosts_history AS hist, hosts AS h
		WHERE hist.scan=? AND hist.host_id=h.id AND h.ip=?`, scan, ip)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &hh, nil
}

// Save inserts the HostHistory if ID<=0, else updates it in place (used
// when step 3 of §4.3.1 overwrites the OS on a re-used row).
func (hh *HostHistory) Save(store *Store) error {
	tx, err := store.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if hh.ID <= 0 {
		id, err := nextID(tx, "hosts_history", "id")
		if err != nil {
			return err
		}
		hh.ID = id
		_, err = tx.Exec("INSERT INTO hosts_history (id,host_id,os,scan) VALUES (?,?,?,?)",
			hh.ID, hh.HostID, hh.OS, hh.Scan)
		if err != nil {
			return errors.Wrap(err, "inserting host history")
		}
	} else {
		_, err = tx.Exec("UPDATE hosts_history SET host_id=?, os=?, scan=? WHERE id=?",
			hh.HostID, hh.OS, hh.Scan, hh.ID)
		if err != nil {
			return errors.Wrap(err, "updating host history")
		}
	}
	return tx.Commit()
}

// Routing is a directed traceroute edge for one scan (§3 invariant 3: no
// self-loops). Edges are insert-only.
type Routing struct {
	Scan    int64  `db:"scan"`
	Left    int64  `db:"left"`
	Right   int64  `db:"right"`
	Comment string `db:"comment"`
}

// Save inserts a routing edge. Routing rows are never mutated (§3).
func (r *Routing) Save(store *Store) error {
	if r.Left == r.Right {
		return errors.New("refusing to save a routing self-loop")
	}
	_, err := store.db.Exec("INSERT INTO routing (scan,left,right,comment) VALUES (?,?,?,?)",
		r.Scan, r.Left, r.Right, r.Comment)
	return errors.Wrap(err, "inserting routing edge")
}

// RoutingFromHost returns the edges where host is on the left (source)
// side for the given scan.
func (s *Store) RoutingFromHost(host, scan int64) ([]Routing, error) {
	var rows []Routing
	err := s.db.Select(&rows, "SELECT scan, left, right, comment FROM routing WHERE left=? AND scan=?", host, scan)
	return rows, errors.Wrap(err, "loading routing")
}

// Port is an open/filtered service observed in one scan, insert-only.
type Port struct {
	HostHistoryID int64  `db:"host_history_id"`
	Port          int    `db:"port"`
	Protocol      string `db:"protocol"`
	State         string `db:"state"`
	Service       string `db:"service"`
	Product       string `db:"product"`
	Comment       string `db:"comment"`
}

// Save inserts the port row.
func (p *Port) Save(store *Store) error {
	_, err := store.db.Exec(`INSERT INTO ports
		(host_history_id,port,protocol,state,service,product,comment)
		VALUES (?,?,?,?,?,?,?)`,
		p.HostHistoryID, p.Port, p.Protocol, p.State, p.Service, p.Product, p.Comment)
	return errors.Wrap(err, "inserting port")
}

// PortsForHistory returns all ports observed for a HostHistory.
func (s *Store) PortsForHistory(histID int64) ([]Port, error) {
	var rows []Port
	err := s.db.Select(&rows, "SELECT * FROM ports WHERE host_history_id=?", histID)
	return rows, errors.Wrap(err, "loading ports")
}

// CVE is one vulnerability candidate attached to a (HostHistory, port)
// pair, insert-only. TypeName is the NSE vulners script's family name
// (column "type" in the schema); TypeID is the per-vulnerability
// identifier (a CVE number or vulners.com hash) — the two are distinct
// columns carried forward from the original schema.
type CVE struct {
	Scan          int64   `db:"scan"`
	HostHistoryID int64   `db:"host_history_id"`
	Port          int     `db:"port"`
	TypeName      string  `db:"type"`
	TypeID        string  `db:"type_id"`
	CVSS          float64 `db:"cvss"`
	IsExploit     string  `db:"is_exploit"`
	Comment       string  `db:"comment"`
}

// Save inserts the CVE row.
func (c *CVE) Save(store *Store) error {
	_, err := store.db.Exec(`INSERT INTO cves
		(scan,host_history_id,port,type,type_id,cvss,is_exploit,comment)
		VALUES (?,?,?,?,?,?,?,?)`,
		c.Scan, c.HostHistoryID, c.Port, c.TypeName, c.TypeID, c.CVSS, c.IsExploit, c.Comment)
	return errors.Wrap(err, "inserting cve")
}

// CVEsForHistory returns all CVEs for a HostHistory, worst-CVSS first.
func (s *Store) CVEsForHistory(histID int64) ([]CVE, error) {
	var rows []CVE
	err := s.db.Select(&rows, `SELECT scan, host_history_id, port, type, type_id,
		cvss, is_exploit, comment FROM cves WHERE host_history_id=? ORDER BY cvss DESC, port ASC`, histID)
	return rows, errors.Wrap(err, "loading cves")
}

// Windows is the umbrella row for one SMB-capable host in one scan. It is
// insert-only (the original source has no UPDATE path for the entire SMB
// family).
type Windows struct {
	ID     int64 `db:"id"`
	Scan   int64 `db:"scan"`
	HistID int64 `db:"hist_id"`
}

// Save inserts the Windows row. A Windows row, once saved, cannot be
// changed — this matches the Rust source exactly.
func (w *Windows) Save(store *Store) error {
	if w.ID > 0 {
		return errors.New("windows scan rows cannot be updated")
	}
	tx, err := store.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	id, err := nextID(tx, "windows", "id")
	if err != nil {
		return err
	}
	w.ID = id
	if _, err := tx.Exec("INSERT INTO windows (id,scan,hist_id) VALUES (?,?,?)",
		w.ID, w.Scan, w.HistID); err != nil {
		return errors.Wrap(err, "inserting windows")
	}
	return tx.Commit()
}

// WindowsByHistID loads the Windows umbrella row for a HostHistory, if any.
func (s *Store) WindowsByHistID(histID int64) (*Windows, error) {
	var w Windows
	err := s.db.Get(&w, "SELECT id, scan, hist_id FROM windows WHERE hist_id=?", histID)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &w, nil
}

// WindowsInfo is 0-or-1 per Windows row: native OS/server fingerprint.
type WindowsInfo struct {
	WindowsID        int64  `db:"windows_id"`
	NativeLanManager string `db:"native_lan_manager"`
	NativeOS         string `db:"native_os"`
	OSName           string `db:"os_name"`
	OSBuild          string `db:"os_build"`
	OSRelease        string `db:"os_release"`
	OSVersion        string `db:"os_version"`
	Platform         string `db:"platform"`
	ServerType       string `db:"server_type"`
	ServerString     string `db:"server_string"`
}

// Save inserts the WindowsInfo row.
func (wi *WindowsInfo) Save(store *Store) error {
	_, err := store.db.Exec(`INSERT INTO windows_info
		(windows_id,native_lan_manager,native_os,os_name,os_build,os_release,
		 os_version,platform,server_type,server_string)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		wi.WindowsID, wi.NativeLanManager, wi.NativeOS, wi.OSName, wi.OSBuild,
		wi.OSRelease, wi.OSVersion, wi.Platform, wi.ServerType, wi.ServerString)
	return errors.Wrap(err, "inserting windows_info")
}

// WindowsInfoByWindowsID loads the info row for a Windows scan.
func (s *Store) WindowsInfoByWindowsID(winID int64) (*WindowsInfo, error) {
	var wi WindowsInfo
	err := s.db.Get(&wi, "SELECT * FROM windows_info WHERE windows_id=?", winID)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &wi, nil
}

// WindowsDomain is 0-or-1 per Windows row: domain membership.
type WindowsDomain struct {
	WindowsID          int64  `db:"windows_id"`
	Domain             string `db:"domain"`
	DNSDomain          string `db:"dns_domain"`
	DerivedDomain      string `db:"derived_domain"`
	DerivedMembership  string `db:"derived_membership"`
	FQDN               string `db:"fqdn"`
	NetbiosName        string `db:"netbios_name"`
	NetbiosDomain      string `db:"netbios_domain"`
}

// Save inserts the WindowsDomain row.
func (wd *WindowsDomain) Save(store *Store) error {
	_, err := store.db.Exec(`INSERT INTO windows_domain
		(windows_id,domain,dns_domain,derived_domain,derived_membership,
		 fqdn,netbios_name,netbios_domain)
		VALUES (?,?,?,?,?,?,?,?)`,
		wd.WindowsID, wd.Domain, wd.DNSDomain, wd.DerivedDomain, wd.DerivedMembership,
		wd.FQDN, wd.NetbiosName, wd.NetbiosDomain)
	return errors.Wrap(err, "inserting windows_domain")
}

// WindowsDomainByWindowsID loads the domain row for a Windows scan.
func (s *Store) WindowsDomainByWindowsID(winID int64) (*WindowsDomain, error) {
	var wd WindowsDomain
	err := s.db.Get(&wd, "SELECT * FROM windows_domain WHERE windows_id=?", winID)
	if err != nil {
		return nil, rowNotFound(err)
	}
	return &wd, nil
}

// WindowsShare is one of N shares discovered on a Windows scan.
type WindowsShare struct {
	WindowsID int64  `db:"windows_id"`
	Name      string `db:"name"`
	ShareType string `db:"type"`
	Comment   string `db:"comment"`
}

// Save inserts the share row.
func (ws *WindowsShare) Save(store *Store) error {
	_, err := store.db.Exec("INSERT INTO windows_share (windows_id,name,type,comment) VALUES (?,?,?,?)",
		ws.WindowsID, ws.Name, ws.ShareType, ws.Comment)
	return errors.Wrap(err, "inserting windows_share")
}

// WindowsSharesByWindowsID loads all shares for a Windows scan.
func (s *Store) WindowsSharesByWindowsID(winID int64) ([]WindowsShare, error) {
	var rows []WindowsShare
	err := s.db.Select(&rows, "SELECT * FROM windows_share WHERE windows_id=?", winID)
	return rows, errors.Wrap(err, "loading windows_share")
}

// WindowsPrinter is one of N printers discovered on a Windows scan.
type WindowsPrinter struct {
	WindowsID   int64  `db:"windows_id"`
	URI         string `db:"uri"`
	Flags       string `db:"flags"`
	Description string `db:"description"`
	Comment     string `db:"comment"`
}

// Save inserts the printer row.
func (wp *WindowsPrinter) Save(store *Store) error {
	_, err := store.db.Exec("INSERT INTO windows_printer (windows_id,uri,flags,description,comment) VALUES (?,?,?,?,?)",
		wp.WindowsID, wp.URI, wp.Flags, wp.Description, wp.Comment)
	return errors.Wrap(err, "inserting windows_printer")
}

// WindowsPrintersByWindowsID loads all printers for a Windows scan.
func (s *Store) WindowsPrintersByWindowsID(winID int64) ([]WindowsPrinter, error) {
	var rows []WindowsPrinter
	err := s.db.Select(&rows, "SELECT * FROM windows_printer WHERE windows_id=?", winID)
	return rows, errors.Wrap(err, "loading windows_printer")
}

// ScriptScan records one invocation of a user-supplied probe script
// against a host during a scan.
type ScriptScan struct {
	ID       int64  `db:"id"`
	Scan     int64  `db:"scan"`
	HistID   int64  `db:"hist_id"`
	ScriptID string `db:"script_id"`
}

// Save inserts the ScriptScan row.
func (ss *ScriptScan) Save(store *Store) error {
	tx, err := store.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	id, err := nextID(tx, "script_scan", "id")
	if err != nil {
		return err
	}
	ss.ID = id
	if _, err := tx.Exec("INSERT INTO script_scan (id,scan,hist_id,script_id) VALUES (?,?,?,?)",
		ss.ID, ss.Scan, ss.HistID, ss.ScriptID); err != nil {
		return errors.Wrap(err, "inserting script_scan")
	}
	return tx.Commit()
}

// ScriptResult is one key/value pair produced by a probe script.
type ScriptResult struct {
	ScriptScanID int64  `db:"script_scan_id"`
	Key          string `db:"key"`
	Value        string `db:"value"`
}

// RecordScriptResults saves a ScriptScan row plus all of its key/value
// results in one call. Called from pipeline.persistPorts for each
// probe.ScriptOutput a service scan returns, which only happens when
// script_args is configured (§6).
func (s *Store) RecordScriptResults(scan, histID int64, scriptID string, kvs map[string]string) error {
	ss := ScriptScan{Scan: scan, HistID: histID, ScriptID: scriptID}
	if err := ss.Save(s); err != nil {
		return err
	}
	for k, v := range kvs {
		_, err := s.db.Exec("INSERT INTO script_result (script_scan_id,key,value) VALUES (?,?,?)",
			ss.ID, k, v)
		if err != nil {
			return errors.Wrap(err, "inserting script_result")
		}
	}
	return nil
}

// Log is an append-only operational audit row (§3); it is fed by
// NewAuditCore, a zapcore.Core teed into the daemon's logger in
// cmd/netwatchd, rather than called directly by components.
type Log struct {
	LogTime  time.Time `db:"log_time"`
	Scan     int64     `db:"scan"`
	Severity string    `db:"severity"`
	Origin   string    `db:"origin"`
	Message  string    `db:"log"`
}

// Save inserts the log row.
func (l *Log) Save(store *Store) error {
	_, err := store.db.Exec("INSERT INTO logs (log_time,scan,severity,origin,log) VALUES (?,?,?,?,?)",
		l.LogTime, l.Scan, l.Severity, l.Origin, l.Message)
	return errors.Wrap(err, "inserting log")
}
