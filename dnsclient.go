package dnsrelay

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNSClient is a plain DNS upstream over UDP or TCP. Queries are not
// encrypted, it is meant for resolvers on a trusted network.
type DNSClient struct {
	*connClient
}

// DNSClientOptions contains options used by the plain DNS upstream.
type DNSClientOptions struct {
	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	QueryTimeout time.Duration
}

var _ Upstream = &DNSClient{}

// NewDNSClient returns a new instance of DNSClient which is a plain DNS upstream.
func NewDNSClient(id, endpoint, network string, opt DNSClientOptions) (*DNSClient, error) {
	if err := validEndpoint(endpoint); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{}
	switch network {
	case "udp":
		if opt.LocalAddr != nil {
			dialer.LocalAddr = &net.UDPAddr{IP: opt.LocalAddr}
		}
	case "tcp":
		if opt.LocalAddr != nil {
			dialer.LocalAddr = &net.TCPAddr{IP: opt.LocalAddr}
		}
	default:
		return nil, fmt.Errorf("unsupported network '%s'", network)
	}
	client := &dns.Client{
		Net:    network,
		Dialer: dialer,
	}
	return &DNSClient{
		connClient: newConnClient(id, endpoint, network, opt.QueryTimeout,
			func(ctx context.Context) (*dns.Conn, error) {
				return client.DialContext(ctx, endpoint)
			}),
	}, nil
}

func (d *DNSClient) String() string {
	return d.id
}
