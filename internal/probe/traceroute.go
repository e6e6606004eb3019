package probe

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"netwatch/ap_common/aputil"
)

const tracerouteBin = "/usr/sbin/traceroute"
const maxHops = 15

// Hop is one numbered hop of a trace_route result. Hops nothing answered
// (a "*" line) are skipped rather than recorded, so every Hop carries an
// IP (§4.2).
type Hop struct {
	Num int
	IP  string
}

// TraceRoute runs `traceroute -n -q1 -m maxHops <ip>` and returns the
// answering hops in order, with the destination ip appended if the tool
// didn't already reach it (§4.2 step 3).
func TraceRoute(ip string) ([]Hop, error) {
	child := aputil.NewChild(tracerouteBin, "-n", "-q1", "-m", strconv.Itoa(maxHops), ip)

	var out bytes.Buffer
	child.Cmd.Stdout = &out
	if err := child.Start(); err != nil {
		return nil, errors.Wrap(err, "starting traceroute")
	}
	_ = child.Wait()

	hops := parseTraceroute(out.String())
	if len(hops) == 0 || hops[len(hops)-1].IP != ip {
		hops = append(hops, Hop{Num: len(hops) + 1, IP: ip})
	}
	return hops, nil
}

// parseTraceroute turns traceroute -n output into a Hop list, skipping
// the banner line, any hop where every probe timed out ("* * *"), and
// any hop whose final token begins with "!" (an unreachable code such
// as "!H" or "!N"), per §4.2 step 3.
func parseTraceroute(output string) []Hop {
	var hops []Hop
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "traceroute to") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if fields[1] == "*" {
			continue
		}
		addr := fields[1]
		if strings.HasPrefix(fields[len(fields)-1], "!") {
			continue
		}
		hops = append(hops, Hop{Num: num, IP: addr})
	}
	return hops
}
