package dnsrelay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestUpstream is an upstream that calls a function for every query and
// counts how often it was used.
type TestUpstream struct {
	SendFunc func(ctx context.Context, q []byte) ([]byte, error)
	Name     string

	mu       sync.Mutex
	hitCount int
	query    []byte
}

var _ Upstream = &TestUpstream{}

// Upstream answering every query with its own bytes.
func echoUpstream(name string) *TestUpstream {
	return &TestUpstream{
		Name: name,
		SendFunc: func(_ context.Context, q []byte) ([]byte, error) {
			return q, nil
		},
	}
}

// Upstream failing every query.
func failingUpstream(name string) *TestUpstream {
	return &TestUpstream{
		Name: name,
		SendFunc: func(context.Context, []byte) ([]byte, error) {
			return nil, &UpstreamError{Upstream: name, Err: errors.New("failed")}
		},
	}
}

// Upstream answering every query with a fixed response.
func staticUpstream(name string, resp []byte) *TestUpstream {
	return &TestUpstream{
		Name: name,
		SendFunc: func(context.Context, []byte) ([]byte, error) {
			return resp, nil
		},
	}
}

func (u *TestUpstream) Send(ctx context.Context, q []byte) ([]byte, error) {
	u.mu.Lock()
	u.hitCount++
	u.query = q
	u.mu.Unlock()
	if u.SendFunc == nil {
		return nil, errors.New("no function defined in TestUpstream")
	}
	return u.SendFunc(ctx, q)
}

func (u *TestUpstream) HitCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hitCount
}

func (u *TestUpstream) Query() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.query
}

func (u *TestUpstream) String() string {
	if u.Name == "" {
		return "TestUpstream()"
	}
	return u.Name
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		url      string
		protocol Protocol
		address  string
	}{
		{"https://1.1.1.1/dns-query", ProtocolDoH, "https://1.1.1.1/dns-query"},
		{"https://dns.example.com:8443/dns-query{?dns}", ProtocolDoH, "https://dns.example.com:8443/dns-query{?dns}"},
		{"tls://9.9.9.9", ProtocolDoT, "9.9.9.9:853"},
		{"dot://dns.quad9.net:8853", ProtocolDoT, "dns.quad9.net:8853"},
		{"dtls://10.0.0.1", ProtocolDTLS, "10.0.0.1:853"},
		{"udp://192.168.1.1", ProtocolUDP, "192.168.1.1:53"},
		{"tcp://[2001:db8::1]", ProtocolTCP, "[2001:db8::1]:53"},
	}
	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			e, err := ParseEndpoint("test", test.url)
			require.NoError(t, err)
			require.Equal(t, "test", e.ID)
			require.Equal(t, test.protocol, e.Protocol)
			require.Equal(t, test.address, e.Address)
		})
	}
}

func TestParseEndpointInvalid(t *testing.T) {
	for _, s := range []string{
		"ftp://1.1.1.1",
		"1.1.1.1",
		"tls://9.9.9.9:0",
		"udp://invalid_host",
		"://",
	} {
		_, err := ParseEndpoint("test", s)
		require.Error(t, err, s)
	}
}

func TestNewUpstreamsOrder(t *testing.T) {
	var endpoints []Endpoint
	for _, s := range []string{"udp://127.0.0.1:5301", "tcp://127.0.0.1:5302", "tls://127.0.0.1:5303"} {
		e, err := ParseEndpoint(s, s)
		require.NoError(t, err)
		endpoints = append(endpoints, e)
	}
	upstreams, err := NewUpstreams(endpoints...)
	require.NoError(t, err)
	require.Len(t, upstreams, 3)
	for i, u := range upstreams {
		require.Equal(t, endpoints[i].ID, u.String())
	}
	require.IsType(t, &DNSClient{}, upstreams[0])
	require.IsType(t, &DNSClient{}, upstreams[1])
	require.IsType(t, &DoTClient{}, upstreams[2])
}

func TestNewUpstreamUnsupported(t *testing.T) {
	_, err := NewUpstream(Endpoint{ID: "test", Address: "127.0.0.1:53", Protocol: "doq"})
	require.Error(t, err)
}
