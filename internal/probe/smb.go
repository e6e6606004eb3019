package probe

import (
	"encoding/json"

	"netwatch/ap_common/aputil"
)

const enum4linuxBin = "/usr/bin/enum4linux-ng"

// enum4JSON mirrors the subset of enum4linux-ng's -oJ report this probe
// consumes (§4.1's `{info?, domain?, [share], [printer]}` contract).
type enum4JSON struct {
	Info *struct {
		NativeLanManager string `json:"Native LAN manager"`
		NativeOS         string `json:"Native OS"`
		OSName           string `json:"OS name"`
		OSBuild          string `json:"OS build"`
		OSRelease        string `json:"OS release"`
		OSVersion        string `json:"OS version"`
		Platform         string `json:"Platform"`
		ServerType       string `json:"Server type"`
		ServerString     string `json:"Server string"`
	} `json:"info"`
	Domain *struct {
		Domain            string `json:"domain"`
		DNSDomain         string `json:"dns_domain"`
		DerivedDomain     string `json:"derived_domain"`
		DerivedMembership string `json:"derived_membership"`
		FQDN              string `json:"fqdn"`
		NetbiosName       string `json:"netbios_name"`
		NetbiosDomain     string `json:"netbios_domain"`
	} `json:"domain"`
	Shares map[string]struct {
		Type    string `json:"type"`
		Comment string `json:"comment"`
	} `json:"shares"`
	Printers map[string]struct {
		URI         string `json:"uri"`
		Description string `json:"description"`
		Flags       string `json:"flags"`
		Comment     string `json:"comment"`
	} `json:"printers"`
}

// EnumerateSMB runs enum4linux-ng against ip (with optional creds) and
// returns the typed report. A nil result (with nil error) means the tool
// was absent, exited non-zero, or emitted no usable JSON — all of which
// are non-fatal per §4.1's failure policy for this probe.
func EnumerateSMB(ip string, creds *SMBCreds) (*SMBResult, error) {
	path, cleanup, err := tempFile("enum4linux")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{"-A", "-C", "-d", "-oJ", path}
	if creds != nil && creds.User != "" {
		args = append(args, "-u", creds.User, "-p", creds.Password)
		if creds.Workgroup != "" {
			args = append(args, "-w", creds.Workgroup)
		}
	}
	args = append(args, ip)

	if !aputil.FileExists(enum4linuxBin) {
		return nil, nil
	}

	child := aputil.NewChild(enum4linuxBin, args...)
	if err := child.Start(); err != nil {
		return nil, nil
	}
	_ = child.Wait()

	data, err := readAndRemove(path)
	if err != nil || len(data) == 0 {
		return nil, nil
	}

	var raw enum4JSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil
	}

	result := &SMBResult{}
	if raw.Info != nil {
		result.Info = &WindowsInfo{
			NativeLanManager: raw.Info.NativeLanManager,
			NativeOS:         raw.Info.NativeOS,
			OSName:           raw.Info.OSName,
			OSBuild:          raw.Info.OSBuild,
			OSRelease:        raw.Info.OSRelease,
			OSVersion:        raw.Info.OSVersion,
			Platform:         raw.Info.Platform,
			ServerType:       raw.Info.ServerType,
			ServerString:     raw.Info.ServerString,
		}
	}
	if raw.Domain != nil {
		result.Domain = &WindowsDomain{
			Domain:            raw.Domain.Domain,
			DNSDomain:         raw.Domain.DNSDomain,
			DerivedDomain:     raw.Domain.DerivedDomain,
			DerivedMembership: raw.Domain.DerivedMembership,
			FQDN:              raw.Domain.FQDN,
			NetbiosName:       raw.Domain.NetbiosName,
			NetbiosDomain:     raw.Domain.NetbiosDomain,
		}
	}
	for name, sh := range raw.Shares {
		result.Shares = append(result.Shares, WindowsShare{Name: name, Type: sh.Type, Comment: sh.Comment})
	}
	for _, p := range raw.Printers {
		result.Printers = append(result.Printers, WindowsPrinter{
			URI: p.URI, Description: p.Description, Flags: p.Flags, Comment: p.Comment,
		})
	}
	return result, nil
}
