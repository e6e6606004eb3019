// Package storage is the pooled relational store for scan results: schema
// migrations, the Scan -> Host -> HostHistory -> {Port, CVE, Windows*}
// entity graph, and the temporal queries built on top of it.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by load/finder methods in place of sql.ErrNoRows,
// matching the original's "row not found returns None, not an error"
// convention (§4.4, §7.3).
var ErrNotFound = errors.New("row not found")

// SentinelEnd is the far-future end_time a Scan is created with; a Scan
// whose end_time equals this value is still "in flight" (§3).
var SentinelEnd = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

var epochStart = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
var epochEnd = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

const maxOpenConns = 10
const busyTimeoutMS = 60000

var initOnce sync.Once

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	scan		INTEGER PRIMARY KEY,
	start_time	DATETIME NOT NULL,
	end_time	DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS hosts (
	id		INTEGER PRIMARY KEY,
	network		TEXT,
	ipnet		TEXT,
	hostname	TEXT,
	ip		TEXT NOT NULL UNIQUE,
	ignore		BOOLEAN NOT NULL DEFAULT 0,
	comment		TEXT
);
CREATE TABLE IF NOT EXISTS hosts_history (
	id		INTEGER PRIMARY KEY,
	host_id		INTEGER NOT NULL,
	os		TEXT,
	scan		INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS hosts_history_scan_host
	ON hosts_history(scan, host_id);
CREATE TABLE IF NOT EXISTS routing (
	scan		INTEGER NOT NULL,
	left		INTEGER NOT NULL,
	right		INTEGER NOT NULL,
	comment		TEXT
);
CREATE TABLE IF NOT EXISTS ports (
	host_history_id	INTEGER NOT NULL,
	port		INTEGER NOT NULL,
	protocol	TEXT NOT NULL,
	state		TEXT NOT NULL,
	service		TEXT,
	product		TEXT,
	comment		TEXT
);
CREATE TABLE IF NOT EXISTS cves (
	scan		INTEGER NOT NULL,
	host_history_id	INTEGER NOT NULL,
	port		INTEGER NOT NULL,
	type		TEXT,
	type_id		TEXT,
	cvss		REAL NOT NULL DEFAULT 0,
	is_exploit	TEXT,
	comment		TEXT
);
CREATE TABLE IF NOT EXISTS windows (
	id		INTEGER PRIMARY KEY,
	scan		INTEGER NOT NULL,
	hist_id		INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS windows_info (
	windows_id		INTEGER NOT NULL,
	native_lan_manager	TEXT,
	native_os		TEXT,
	os_name			TEXT,
	os_build		TEXT,
	os_release		TEXT,
	os_version		TEXT,
	platform		TEXT,
	server_type		TEXT,
	server_string		TEXT
);
CREATE TABLE IF NOT EXISTS windows_domain (
	windows_id		INTEGER NOT NULL,
	domain			TEXT,
	dns_domain		TEXT,
	derived_domain		TEXT,
	derived_membership	TEXT,
	fqdn			TEXT,
	netbios_name		TEXT,
	netbios_domain		TEXT
);
CREATE TABLE IF NOT EXISTS windows_share (
	windows_id	INTEGER NOT NULL,
	name		TEXT,
	type		TEXT,
	comment		TEXT
);
CREATE TABLE IF NOT EXISTS windows_printer (
	windows_id	INTEGER NOT NULL,
	uri		TEXT,
	flags		TEXT,
	description	TEXT,
	comment		TEXT
);
CREATE TABLE IF NOT EXISTS script_scan (
	id		INTEGER PRIMARY KEY,
	scan		INTEGER NOT NULL,
	hist_id		INTEGER NOT NULL,
	script_id	TEXT
);
CREATE TABLE IF NOT EXISTS script_result (
	script_scan_id	INTEGER NOT NULL,
	key		TEXT,
	value		TEXT
);
CREATE TABLE IF NOT EXISTS logs (
	log_time	DATETIME NOT NULL,
	scan		INTEGER,
	severity	TEXT,
	origin		TEXT,
	log		TEXT
);
`

// Store wraps a pooled sqlx connection to a single SQLite database,
// enforcing the busy-timeout/WAL/connection-limit policy of §4.4.
type Store struct {
	db *sqlx.DB
}

// Open lazily connects to the database at path (or url, if non-empty takes
// precedence), runs the schema migrations exactly once process-wide, and
// returns a ready Store. path/url mirror the `sqlite.{file,url}` config
// keys (§6); if both are empty a default derived from name is used.
func Open(name, path, url string) (*Store, error) {
	dsn := url
	if dsn == "" {
		if path == "" {
			path = fmt.Sprintf("%s.db", name)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate",
			path, busyTimeoutMS)
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", dsn)
	}
	db.SetMaxOpenConns(maxOpenConns)

	var migrateErr error
	initOnce.Do(func() {
		_, migrateErr = db.Exec(schema)
	})
	if migrateErr != nil {
		return nil, errors.Wrap(migrateErr, "running schema migrations")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// nextID implements the id-allocator wrapped in a transaction, per the §9
// design note ("wrap this in a transaction... do not inherit the race").
// It still preserves the "surrogate ids are max(column)+1" shape the rest
// of the entity save methods rely on, but does so under BEGIN IMMEDIATE (the
// file DSN built by Open sets _txlock=immediate) so two concurrent callers
// can't observe the same max value. A caller-supplied url DSN gets this only
// if it sets _txlock=immediate itself.
func nextID(tx *sqlx.Tx, table, column string) (int64, error) {
	var max sql.NullInt64
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", column, table)
	if err := tx.Get(&max, q); err != nil {
		return 0, errors.Wrapf(err, "allocating id for %s.%s", table, column)
	}
	return max.Int64 + 1, nil
}

func rowNotFound(err error) error {
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func windowOrDefault(start, end *time.Time) (time.Time, time.Time) {
	s, e := epochStart, epochEnd
	if start != nil {
		s = *start
	}
	if end != nil {
		e = *end
	}
	return s, e
}
