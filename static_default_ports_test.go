package dnsrelay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPort(t *testing.T) {
	tests := []struct {
		address     string
		defaultPort string
		expected    string
	}{
		{"", DoTPort, ""},
		{"localhost", DoTPort, "localhost:853"},
		{"localhost:123", DoTPort, "localhost:123"},
		{"1.2.3.4", DoTPort, "1.2.3.4:853"},
		{"1.2.3.4:123", DoTPort, "1.2.3.4:123"},
		{"::1", DoTPort, "[::1]:853"},
		{"[::1]", DoTPort, "[::1]:853"},
		{"[::1]:5353", DoTPort, "[::1]:5353"},
		{"https://localhost/dns-query{?dns}", DoHPort, "https://localhost/dns-query{?dns}"},

		// Invalid endpoints should not be changed
		{"localhost:", DoTPort, "localhost:"},
		{"localhost::123", DoTPort, "localhost::123"},
	}
	for _, test := range tests {
		out := AddressWithDefault(test.address, test.defaultPort)
		require.Equal(t, test.expected, out, "address %q", test.address)
	}
}
