// Package netutil holds small IP/CIDR helpers shared by the config and
// pipeline packages that don't belong in the MAC-oriented
// ap_common/network package.
package netutil

import "net"

// ParseCIDRLabel normalizes a CIDR string (which may name a host address
// rather than a network address, e.g. "192.0.2.5/24") to its network
// address and mask, returning ok=false if the string doesn't parse. Used
// by config.Target.CIDR to validate and canonicalize `targets[].target`.
func ParseCIDRLabel(cidr string) (network string, ok bool) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", false
	}
	return ipnet.String(), true
}

// Partition round-robins items across n slots in insertion order, matching
// §9's "round-robin by insertion order (not by hash)" contract: two scans
// with identical target lists produce identical partitionings.
func Partition[T any](items []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	slots := make([][]T, n)
	for i, item := range items {
		slot := i % n
		slots[slot] = append(slots[slot], item)
	}
	return slots
}
