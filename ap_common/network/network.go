/*
 * COPYRIGHT 2018 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package network contains the IP conversion and interface helpers
// shared by the DHCP Capture Trigger, the Scan Pipeline, and the
// Config loader.
package network

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"net"
	"regexp"
	"strings"
	"time"
)

// Uint32ToIPAddr decodes a uint32 into a net.IP
func Uint32ToIPAddr(a uint32) net.IP {
	var ipv4 net.IP

	if a != 0 {
		ipv4 = make(net.IP, net.IPv4len)
		binary.BigEndian.PutUint32(ipv4, a)
	}
	return ipv4
}

// SubnetRouter derives the router's IP address from the network.
//
//	e.g., 192.168.136.0/28 -> 192.168.136.1
func SubnetRouter(subnet string) string {
	_, network, _ := net.ParseCIDR(subnet)
	raw := network.IP.To4()
	raw[3]++
	router := (net.IP(raw)).String()
	return router
}

// WaitForDevice will wait for a network device to reach the 'up' state.
// Returns an error on timeout or if the device doesn't exist.
func WaitForDevice(dev string, timeout time.Duration) error {
	fn := "/sys/class/net/" + dev + "/operstate"

	start := time.Now()
	for {
		state, err := ioutil.ReadFile(fn)
		if err == nil && string(state[0:2]) == "up" {
			break
		}
		if time.Since(start) >= timeout {
			return fmt.Errorf("timeout: %s not online: %s", dev, state)
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil
}

var legalHostname = regexp.MustCompile(`^([a-z0-9]|[a-z0-9][a-z0-9\-]*[a-z0-9])$`)

// ValidHostname checks whether the provided hostname is RFC1123-compliant.
// A hostname may contain only letters, digits, and hyphens.  It may neither
// start nor end with hyphen.
func ValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 63 {
		return false
	}

	lower := []byte(strings.ToLower(hostname))
	return legalHostname.Match(lower)
}
