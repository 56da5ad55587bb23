package dnsrelay

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// DoTClient is a DNS-over-TLS upstream.
type DoTClient struct {
	*connClient
	dialAddr  string
	tlsConfig *tls.Config
	opt       DoTClientOptions
}

// DoTClientOptions contains options used by the DNS-over-TLS upstream.
type DoTClientOptions struct {
	// Bootstrap address - IP to use for the service instead of looking up
	// the service's hostname with potentially plain DNS.
	BootstrapAddr string

	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	TLSConfig *tls.Config

	QueryTimeout time.Duration

	// Optional dialer, e.g. proxy
	Dialer Dialer
}

// Dialer opens plain network connections, for example through a proxy.
type Dialer interface {
	Dial(network string, address string) (net.Conn, error)
}

var _ Upstream = &DoTClient{}

// NewDoTClient instantiates a new DNS-over-TLS upstream.
func NewDoTClient(id, endpoint string, opt DoTClientOptions) (*DoTClient, error) {
	if err := validEndpoint(endpoint); err != nil {
		return nil, err
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dot endpoint '%s'", endpoint)
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		tlsConfig = opt.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}

	// With a bootstrap address, connect to that IP but keep using the hostname
	// from the endpoint in the TLS handshake.
	dialAddr := endpoint
	if opt.BootstrapAddr != "" {
		dialAddr = net.JoinHostPort(opt.BootstrapAddr, port)
	}

	d := &DoTClient{
		dialAddr:  dialAddr,
		tlsConfig: tlsConfig,
		opt:       opt,
	}
	d.connClient = newConnClient(id, endpoint, "dot", opt.QueryTimeout, d.dialTLS)
	return d, nil
}

func (d *DoTClient) dialTLS(ctx context.Context) (*dns.Conn, error) {
	var (
		raw net.Conn
		err error
	)
	if d.opt.Dialer != nil {
		raw, err = d.opt.Dialer.Dial("tcp", d.dialAddr)
	} else {
		var nd net.Dialer
		if d.opt.LocalAddr != nil {
			nd.LocalAddr = &net.TCPAddr{IP: d.opt.LocalAddr}
		}
		raw, err = nd.DialContext(ctx, "tcp", d.dialAddr)
	}
	if err != nil {
		return nil, err
	}
	conn := tls.Client(raw, d.tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return &dns.Conn{Conn: conn}, nil
}

func (d *DoTClient) String() string {
	return d.id
}
