// Package pipeline is the Scan Pipeline: it drives a triggered scan
// through its four phases (open, enumerate, probe, SMB enumerate),
// partitioning work across a worker pool the way
// bg/ap.watchd/scanner.go's hostScan/portScanner pair drain a shared
// queue, but fanned out with errgroup instead of a hand-rolled
// goroutine/channel pair (§4.3).
package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netwatch/ap_common/network"
	"netwatch/internal/netutil"
	"netwatch/internal/probe"
	"netwatch/internal/route"
	"netwatch/internal/storage"
)

// Target is one configured scan target: a CIDR plus the scan options
// that apply to every host discovered within it (`targets[]`, §6).
type Target struct {
	CIDR         string
	Network      string
	Extended     bool
	VersionCheck bool
	ScriptArgs   string
	Windows      *probe.SMBCreds
}

// HostDraft is an in-memory scan candidate threaded through Phases 1-3.
type HostDraft struct {
	Network      string
	IP           string
	Extended     bool
	ScriptArgs   string
	Windows      *probe.SMBCreds
	HistID       int64
	RouteResult  *route.Result
}

// Pipeline runs triggered scans against a fixed target list, persisting
// through store and fanning work out across numWorkers slots (the
// `num_threads` config key, §6).
type Pipeline struct {
	store      *storage.Store
	targets    []Target
	numWorkers int
	log        *zap.SugaredLogger
}

// New builds a Pipeline. numWorkers must be >= 1.
func New(store *storage.Store, targets []Target, numWorkers int, log *zap.SugaredLogger) *Pipeline {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pipeline{store: store, targets: targets, numWorkers: numWorkers, log: log}
}

// Run executes Phases 0-3 for a freshly triggered scan and returns the
// scan id plus the enriched Phase-2 drafts, since the DHCP path needs
// the aggregate Phase-2 result synchronously (§4.3).
func (p *Pipeline) Run(ctx context.Context) (int64, []HostDraft, error) {
	scan := storage.NewScan()
	if err := scan.Save(p.store); err != nil {
		_ = scan.End(p.store)
		return 0, nil, errors.Wrap(err, "phase 0: opening scan")
	}

	var drafts []HostDraft
	for _, t := range p.targets {
		ips, err := probe.DiscoverHosts(t.CIDR)
		if err != nil {
			p.log.Warnw("discover_hosts failed", "cidr", t.CIDR, "error", err)
			continue
		}
		router := network.SubnetRouter(t.CIDR)
		for _, ip := range ips {
			if ip == "" || ip == router {
				// Don't schedule a scan of the appliance's own interface.
				continue
			}
			drafts = append(drafts, HostDraft{
				Network: t.Network, IP: ip, Extended: t.Extended,
				ScriptArgs: t.ScriptArgs, Windows: t.Windows,
			})
		}
	}

	enriched := p.runGeneralProbe(ctx, scan.ID, drafts)
	p.runSMBProbe(ctx, scan.ID, enriched)

	if err := scan.End(p.store); err != nil {
		return scan.ID, enriched, errors.Wrap(err, "ending scan")
	}
	return scan.ID, enriched, nil
}

// RunDHCPTriggered invokes only the Phase-2 portion of the pipeline for
// a single synthesized draft, attributed to the most recent scan (or
// scan id 1 if none exists yet) — the documented "DHCP-driven scans
// attribute to the last scheduled scan" design (§4.5).
func (p *Pipeline) RunDHCPTriggered(ctx context.Context, ip string) error {
	scanID, err := p.lastOrDefaultScanID()
	if err != nil {
		return err
	}
	draft := HostDraft{Network: "", IP: ip, Extended: false}
	p.runGeneralProbe(ctx, scanID, []HostDraft{draft})
	return nil
}

func (p *Pipeline) lastOrDefaultScanID() (int64, error) {
	sc, err := p.store.LastScan()
	if err == storage.ErrNotFound {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return sc.ID, nil
}

// runGeneralProbe is Phase 2: round-robin partition across numWorkers,
// each worker draining its slot sequentially; route, probe, persist.
// An individual host's failure never aborts the scan (§4.3 failure
// semantics).
func (p *Pipeline) runGeneralProbe(ctx context.Context, scanID int64, drafts []HostDraft) []HostDraft {
	partitions := netutil.Partition(drafts, p.numWorkers)
	enriched := make([][]HostDraft, len(partitions))

	g, _ := errgroup.WithContext(ctx)
	for i, slot := range partitions {
		i, slot := i, slot
		g.Go(func() error {
			out := make([]HostDraft, 0, len(slot))
			for _, d := range slot {
				out = append(out, p.probeAndPersistOne(scanID, d))
			}
			enriched[i] = out
			return nil
		})
	}
	_ = g.Wait() // workers never return an error; failures are logged per-host

	var flat []HostDraft
	for _, slot := range enriched {
		flat = append(flat, slot...)
	}
	return flat
}

func (p *Pipeline) probeAndPersistOne(scanID int64, d HostDraft) HostDraft {
	rr, err := route.Resolve(d.IP)
	if err != nil {
		p.log.Warnw("route resolve failed", "ip", d.IP, "error", err)
	} else {
		d.RouteResult = rr
		if rr.CIDR != "" {
			d.Network = rr.CIDR
		}
	}

	svc, err := probe.ServiceScan(d.IP, d.Extended, d.ScriptArgs)
	if err != nil {
		p.log.Warnw("service_scan failed", "ip", d.IP, "error", err)
		svc = &probe.ServiceScanResult{}
	}

	histID, err := persistGeneral(p.store, scanID, d, svc)
	if err != nil {
		p.log.Warnw("persist failed", "ip", d.IP, "error", err)
	} else {
		d.HistID = histID
	}
	return d
}

// runSMBProbe is Phase 3: a fresh round-robin partition of the Phase-2
// drafts, SMB-enumerating each and persisting only non-nil results.
func (p *Pipeline) runSMBProbe(ctx context.Context, scanID int64, drafts []HostDraft) {
	partitions := netutil.Partition(drafts, p.numWorkers)

	g, _ := errgroup.WithContext(ctx)
	for _, slot := range partitions {
		slot := slot
		g.Go(func() error {
			for _, d := range slot {
				if d.HistID == 0 {
					continue
				}
				smb, err := probe.EnumerateSMB(d.IP, d.Windows)
				if err != nil {
					p.log.Warnw("enumerate_smb failed", "ip", d.IP, "error", err)
					continue
				}
				if smb == nil {
					continue
				}
				if err := persistSMB(p.store, scanID, d.HistID, smb); err != nil {
					p.log.Warnw("persist smb failed", "ip", d.IP, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
