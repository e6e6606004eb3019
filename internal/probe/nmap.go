package probe

import (
	"io/ioutil"
	"strconv"

	nmap "github.com/lair-framework/go-nmap"
	"github.com/pkg/errors"

	"netwatch/ap_common/aputil"
)

const nmapBin = "/usr/bin/nmap"

// DiscoverHosts runs a ping-only sweep of cidr and returns the addresses
// that answered (§4.1 discover_hosts).
func DiscoverHosts(cidr string) ([]string, error) {
	run, cleanup, err := runNmap([]string{"-sn", cidr})
	defer cleanup()
	if err != nil {
		return nil, err
	}

	var up []string
	for _, h := range run.Hosts {
		if h.Status.State != "up" {
			continue
		}
		if _, ip := addresses(&h); ip != "" {
			up = append(up, ip)
		}
	}
	return up, nil
}

// ServiceScan runs an nmap service/version/OS scan (plus the vulners NSE
// script when extended is set) against ip and returns the typed result
// (§4.1 service_scan).
func ServiceScan(ip string, extended bool, scriptArgs string) (*ServiceScanResult, error) {
	args := []string{"-O", "-sT", "-sV"}
	if extended {
		args = append(args, "--script=vulners")
		if scriptArgs != "" {
			args = append(args, "--script-args="+scriptArgs)
		}
	}
	args = append(args, ip)

	run, cleanup, err := runNmap(args)
	defer cleanup()
	if err != nil {
		return nil, err
	}
	if len(run.Hosts) == 0 {
		return &ServiceScanResult{}, nil
	}

	host := run.Hosts[0]
	result := &ServiceScanResult{OSName: firstOSMatch(&host)}

	for _, p := range host.Ports {
		port, _ := strconv.Atoi(p.PortId)
		sp := ServicePort{
			Port:     port,
			Protocol: parseProtocol(p.Protocol),
			State:    parseState(p.State.State),
			Name:     p.Service.Name,
			Product:  p.Service.Product,
			Version:  p.Service.Version,
		}
		for _, sc := range p.Scripts {
			if sc.Id != "vulners" {
				continue
			}
			sp.Vulns = append(sp.Vulns, vulnersVulns(&sc)...)
			if scriptArgs != "" {
				if kv := scriptElements(&sc); len(kv) > 0 {
					result.Scripts = append(result.Scripts, ScriptOutput{ID: sc.Id, Values: kv})
				}
			}
		}
		result.Ports = append(result.Ports, sp)
	}
	return result, nil
}

// scriptElements flattens a Script's top-level key/value elements
// (distinct from the nested per-vulnerability tables vulnersVulns
// reads), used to populate a ScriptOutput when scriptArgs requests
// script output beyond the structured Vuln shape.
func scriptElements(sc *nmap.Script) map[string]string {
	if len(sc.Elements) == 0 {
		return nil
	}
	kv := make(map[string]string, len(sc.Elements))
	for _, e := range sc.Elements {
		kv[e.Key] = e.Value
	}
	return kv
}

// firstOSMatch returns the name of the first osmatch element, matching
// the original's first-occurrence-wins rule (§4.1).
func firstOSMatch(h *nmap.Host) string {
	if len(h.Os.OsMatches) == 0 {
		return ""
	}
	return h.Os.OsMatches[0].Name
}

// vulnersVulns extracts one Vuln per nested <table> the vulners.nse
// script emits under its top-level table: each child table is keyed by
// CVE/vulners id and carries `type`, `cvss`, and `is_exploit` elem
// children.
func vulnersVulns(sc *nmap.Script) []Vuln {
	var vulns []Vuln
	for _, outer := range sc.Tables {
		for _, t := range outer.Tables {
			v := Vuln{ID: t.Key}
			for _, e := range t.Elements {
				switch e.Key {
				case "type":
					v.Database = e.Value
				case "cvss":
					v.CVSS, _ = strconv.ParseFloat(e.Value, 64)
				case "is_exploit":
					v.IsExploit = e.Value == "true"
				}
			}
			vulns = append(vulns, v)
		}
	}
	return vulns
}

func addresses(h *nmap.Host) (mac, ip string) {
	for _, a := range h.Addresses {
		switch a.AddrType {
		case "mac":
			mac = a.Addr
		case "ipv4":
			ip = a.Addr
		}
	}
	return mac, ip
}

// runNmap invokes nmap with args plus `-oX <tmpfile>`, writing its XML
// report to a UUID-named temp file, and parses the result. The temp file
// is always removed by the returned cleanup func, including on parse
// failure (§4.1). A non-zero nmap exit is not itself fatal: nmap
// frequently still emits a usable partial report, so only a read/parse
// failure of the report file is treated as an error.
func runNmap(args []string) (*nmap.NmapRun, func(), error) {
	path, cleanup, err := tempFile("nmap")
	if err != nil {
		return nil, func() {}, err
	}

	full := append(append([]string{}, args...), "-oX", path)
	child := aputil.NewChild(nmapBin, full...)
	// Retain nmap's console chatter (it writes its report to -oX, not
	// stdout) so a parse failure can attach it for diagnosis.
	child.LogOutputTo("", 0, ioutil.Discard)
	if err := child.Start(); err != nil {
		return nil, cleanup, errors.Wrap(err, "starting nmap")
	}
	_ = child.Wait() // non-zero exit still frequently yields a usable report

	data, err := readAndRemove(path)
	if err != nil {
		return nil, cleanup, errors.Errorf("reading nmap report: %v (output: %s)", err, child.Tail())
	}

	parsed, err := nmap.Parse(data)
	if err != nil {
		return nil, cleanup, errors.Errorf("parsing nmap XML: %v (output: %s)", err, child.Tail())
	}
	return parsed, cleanup, nil
}
