package dnsrelay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"github.com/pion/dtls/v2"
)

// DTLSClient is a DNS-over-DTLS upstream.
type DTLSClient struct {
	*connClient
	opt DTLSClientOptions
}

// DTLSClientOptions contains options used by the DNS-over-DTLS upstream.
type DTLSClientOptions struct {
	// Bootstrap address - IP to use for the service instead of looking up
	// the service's hostname with potentially plain DNS.
	BootstrapAddr string

	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	DTLSConfig *dtls.Config

	QueryTimeout time.Duration
}

var _ Upstream = &DTLSClient{}

// NewDTLSClient instantiates a new DNS-over-DTLS upstream.
func NewDTLSClient(id, endpoint string, opt DTLSClientOptions) (*DTLSClient, error) {
	if err := validEndpoint(endpoint); err != nil {
		return nil, err
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, err
	}
	// Copy the config, the server name is set below
	dtlsConfig := new(dtls.Config)
	if opt.DTLSConfig != nil {
		*dtlsConfig = *opt.DTLSConfig
	}
	opt.DTLSConfig = dtlsConfig
	if opt.DTLSConfig.ServerName == "" {
		opt.DTLSConfig.ServerName = host
	}

	// If a bootstrap address was provided, we need to use the IP for the connection but the
	// hostname in the TLS handshake.
	var ip net.IP
	if opt.BootstrapAddr != "" {
		ip = net.ParseIP(opt.BootstrapAddr)
		if ip == nil {
			return nil, fmt.Errorf("failed to parse bootstrap address '%s'", opt.BootstrapAddr)
		}
	} else if ip = net.ParseIP(host); ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, err
		}
		if len(ips) < 1 {
			return nil, fmt.Errorf("failed to lookup '%s'", host)
		}
		ip = ips[0]
	}
	raddr := &net.UDPAddr{IP: ip, Port: p}

	var laddr *net.UDPAddr
	if opt.LocalAddr != nil {
		laddr = &net.UDPAddr{IP: opt.LocalAddr}
	}

	d := &DTLSClient{opt: opt}
	d.connClient = newConnClient(id, endpoint, "dtls", opt.QueryTimeout,
		func(ctx context.Context) (*dns.Conn, error) {
			pConn, err := net.DialUDP("udp", laddr, raddr)
			if err != nil {
				return nil, err
			}
			c, err := dtls.ClientWithContext(ctx, pConn, opt.DTLSConfig)
			if err != nil {
				pConn.Close()
				return nil, err
			}
			return &dns.Conn{Conn: &dtlsConn{Conn: c}}, nil
		})
	return d, nil
}

func (d *DTLSClient) String() string {
	return d.id
}
