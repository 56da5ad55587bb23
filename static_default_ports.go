package dnsrelay

import (
	"net"
	"strings"
)

var (
	DoTPort      = "853"
	DTLSPort     = DoTPort
	DoHPort      = "443"
	PlainDNSPort = "53"
)

// AddressWithDefault adds the default port to addr if it doesn't have one.
// URLs and malformed addresses are returned unchanged.
func AddressWithDefault(addr, defaultPort string) string {
	if addr == "" || strings.Contains(addr, "://") {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if ip := net.ParseIP(strings.Trim(addr, "[]")); ip != nil {
		return net.JoinHostPort(ip.String(), defaultPort)
	}
	if strings.Contains(addr, ":") {
		return addr
	}
	return net.JoinHostPort(addr, defaultPort)
}
