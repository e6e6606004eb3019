// Package probe is the Probe Runner: it turns an invocation of an
// external discovery tool (nmap, traceroute, enum4linux-ng) into a typed
// result, and never touches persistence (§4.1).
package probe

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/satori/uuid"
)

// Protocol is the transport a Port was observed on.
type Protocol int

// Protocol values, mapped from the probe tool's textual protocol field
// per §4.1 ("tcp"→TCP, "udp"→UDP, else→UNKNOWN).
const (
	ProtoUnknown Protocol = iota
	ProtoTCP
	ProtoUDP
)

func parseProtocol(s string) Protocol {
	switch s {
	case "tcp":
		return ProtoTCP
	case "udp":
		return ProtoUDP
	default:
		return ProtoUnknown
	}
}

// State is the observed openness of a Port.
type State int

// State values, mapped from the probe tool's textual state field per
// §4.1 ("open"→OPEN, "filter"→FILTER, "close"→CLOSE, else→UNKNOWN).
const (
	StateUnknown State = iota
	StateOpen
	StateFilter
	StateClose
)

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "filter":
		return StateFilter
	case "close":
		return StateClose
	default:
		return StateUnknown
	}
}

// Vuln is one vulnerability candidate surfaced by the vulners NSE script
// against a single port.
type Vuln struct {
	ID        string
	Database  string
	CVSS      float64
	IsExploit bool
}

// ServicePort is one open/filtered service observed on a host.
type ServicePort struct {
	Port     int
	Protocol Protocol
	State    State
	Name     string
	Product  string
	Version  string
	Vulns    []Vuln
}

// ServiceScanResult is the typed output of service_scan (§4.1).
type ServiceScanResult struct {
	OSName  string
	Ports   []ServicePort
	Scripts []ScriptOutput
}

// ScriptOutput is one NSE script's flat key/value results, captured
// separately from the structured Vuln extraction so that configuring
// the global `script_args` key (§6) on an extended target yields
// a recorded ScriptScan/ScriptResult row even for script output that
// doesn't fit the Vuln shape.
type ScriptOutput struct {
	ID     string
	Values map[string]string
}

// SMBCreds are the optional per-target credentials used for SMB
// enumeration (`targets[].windows.*` config keys, §6).
type SMBCreds struct {
	User     string
	Password string
	Workgroup string
}

// WindowsInfo mirrors the "info" block of an enum4linux-ng JSON report.
type WindowsInfo struct {
	NativeLanManager string
	NativeOS         string
	OSName           string
	OSBuild          string
	OSRelease        string
	OSVersion        string
	Platform         string
	ServerType       string
	ServerString     string
}

// WindowsDomain mirrors the "domain" block of an enum4linux-ng JSON report.
type WindowsDomain struct {
	Domain            string
	DNSDomain         string
	DerivedDomain     string
	DerivedMembership string
	FQDN              string
	NetbiosName       string
	NetbiosDomain     string
}

// WindowsShare is one discovered SMB share.
type WindowsShare struct {
	Name    string
	Type    string
	Comment string
}

// WindowsPrinter is one discovered network printer.
type WindowsPrinter struct {
	URI         string
	Description string
	Flags       string
	Comment     string
}

// SMBResult is the typed output of enumerate_smb; a nil *SMBResult means
// "tool absent, non-zero exit, or JSON empty" (§4.1).
type SMBResult struct {
	Info    *WindowsInfo
	Domain  *WindowsDomain
	Shares  []WindowsShare
	Printers []WindowsPrinter
}

// tempFile reserves a UUID-named file in the OS temp directory for a
// probe tool's structured output and returns a cleanup function that
// removes it unconditionally, including on parse failure (§4.1).
func tempFile(prefix string) (path string, cleanup func(), err error) {
	name := prefix + "-" + uuid.NewV4().String()
	path = filepath.Join(os.TempDir(), name)
	cleanup = func() { os.Remove(path) }
	return path, cleanup, nil
}

func readAndRemove(path string) ([]byte, error) {
	data, err := ioutil.ReadFile(path)
	return data, err
}
