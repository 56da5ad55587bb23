package dnsrelay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidEndpoint(t *testing.T) {
	for _, addr := range []string{"1.1.1.1:853", "[2606:4700::1111]:853", "dns.google:853", "one.one.one.one.:853"} {
		require.NoError(t, validEndpoint(addr), addr)
	}
	for _, addr := range []string{"1.1.1.1", "dns.google:0", "dns.google:99999", "-dns.google:853", "dns..google:853", "dns_google:853", "1.2.3:853"} {
		require.Error(t, validEndpoint(addr), addr)
	}
}

func TestValidBindAddress(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:53", "[::1]:53", ":5353", "0.0.0.0:0"} {
		require.NoError(t, validBindAddress(addr), addr)
	}
	for _, addr := range []string{"localhost:53", "127.0.0.1", "127.0.0.1:port"} {
		require.Error(t, validBindAddress(addr), addr)
	}
}
