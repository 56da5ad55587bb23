package dnsrelay

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Returns nil if the upstream address in the form of <host>:<port> is valid.
func validEndpoint(addr string) error {
	host, port, err := splitPort(addr)
	if err != nil {
		return err
	}
	if port == 0 {
		return errors.New("port 0 is not a valid upstream port")
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	return validHostname(host)
}

// Returns nil if addr is an <ip>:<port> a UDP socket can be bound to. Port 0
// picks a free port.
func validBindAddress(addr string) error {
	host, _, err := splitPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return nil
	}
	if ip := net.ParseIP(host); ip == nil {
		return fmt.Errorf("bind address %q is not an IP", host)
	}
	return nil
}

func splitPort(addr string) (string, uint16, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port: %w", err)
	}
	return host, uint16(p), nil
}

// Returns nil if the given name is a valid hostname as per https://tools.ietf.org/html/rfc3696#section-2
// and https://tools.ietf.org/html/rfc1123#page-13
func validHostname(name string) error {
	if name == "" {
		return errors.New("hostname empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("invalid hostname %q: too long", name)
	}
	name = strings.TrimSuffix(name, ".")
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("invalid hostname %q: empty label", name)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("invalid hostname %q: label can not start or end with -", name)
		}
		for _, c := range label {
			switch {
			case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
			default:
				return fmt.Errorf("invalid hostname %q: invalid character %q", name, string(c))
			}
		}
	}
	// The last label can not be all-numeric
	for _, c := range labels[len(labels)-1] {
		if c < '0' || c > '9' {
			return nil
		}
	}
	return fmt.Errorf("invalid hostname %q: last label can not be all numeric", name)
}
