// Package route is the Route Resolver: per-target gateway lookup and hop
// enumeration, parsed out of `ip route` and `traceroute` text the way
// apscan.go used to parse `iw dev scan` stanzas — regex over line-
// oriented tool output, tolerant of missing/partial fields (§4.2).
package route

import (
	"bytes"
	"regexp"

	"github.com/pkg/errors"

	"netwatch/ap_common/aputil"
	"netwatch/internal/probe"
)

const ipBin = "/sbin/ip"

var directRE = regexp.MustCompile(`^(\S+)\s+dev\s+(\S+)(?:\s+.*\bsrc\s+(\S+))?`)
var defaultRE = regexp.MustCompile(`^default\s+via\s+(\S+)\s+dev\s+(\S+)`)

// Result is the resolved hop list and CIDR label for one target (§4.2).
// FirstHop is the gateway address identified from the routing table in
// step 2, kept separately from Hops because traceroute (step 3) is the
// authoritative hop-by-hop path and may disagree with it.
type Result struct {
	CIDR     string
	FirstHop string
	Hops     []probe.Hop
}

// Resolve runs the four-step algorithm of §4.2 against target and
// returns the CIDR label the scanner reached it through plus the
// ordered hop list ending at target.
func Resolve(target string) (*Result, error) {
	lines, err := routeShow(target)
	if err != nil {
		return nil, err
	}

	var cidr, firstHopDev, firstHopVia string
	for _, line := range lines {
		if m := directRE.FindStringSubmatch(line); m != nil {
			cidr = m[1]
			firstHopDev = m[2]
		}
	}
	for _, line := range lines {
		if m := defaultRE.FindStringSubmatch(line); m != nil {
			if firstHopDev == "" || m[2] == firstHopDev {
				firstHopVia = m[1]
			}
		}
	}

	hops, err := probe.TraceRoute(target)
	if err != nil {
		return nil, err
	}

	return &Result{CIDR: cidr, FirstHop: firstHopVia, Hops: hops}, nil
}

// routeShow runs `ip route list match <ip>` (§6) and splits it into
// lines for the direct/default regexes to scan. "list match" (rather
// than "show") is what resolves which table entries actually apply to
// reaching target, including a inherited default route.
func routeShow(target string) ([]string, error) {
	child := aputil.NewChild(ipBin, "route", "list", "match", target)

	var out bytes.Buffer
	child.Cmd.Stdout = &out
	if err := child.Start(); err != nil {
		return nil, errors.Wrap(err, "starting ip route list match")
	}
	if err := child.Wait(); err != nil {
		return nil, errors.Wrap(err, "running ip route list match")
	}

	var lines []string
	for _, l := range bytes.Split(out.Bytes(), []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			lines = append(lines, string(bytes.TrimSpace(l)))
		}
	}
	return lines, nil
}
