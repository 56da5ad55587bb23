package dnsrelay

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Upstream performs one round trip with a single remote resolver. Query and
// response are raw DNS messages, an upstream never returns an empty response
// without an error.
type Upstream interface {
	Send(ctx context.Context, query []byte) ([]byte, error)
	fmt.Stringer
}

// Protocol identifies how queries are carried to an upstream.
type Protocol string

const (
	ProtocolDoH  Protocol = "doh"
	ProtocolDoT  Protocol = "dot"
	ProtocolDTLS Protocol = "dtls"
	ProtocolUDP  Protocol = "udp"
	ProtocolTCP  Protocol = "tcp"
)

// Endpoint describes one upstream resolver.
type Endpoint struct {
	ID       string
	Address  string
	Protocol Protocol

	// DoH method, GET or POST.
	Method string
	// DoH transport, "tcp" or "quic".
	Transport string

	// IP to connect to instead of resolving the hostname in Address.
	BootstrapAddr string
	LocalAddr     net.IP

	CAFile        string
	ClientCrtFile string
	ClientKeyFile string
	ServerName    string

	// Optional SOCKS5 proxy for DoT upstreams.
	Socks5Address string
	Socks5        Socks5DialerOptions

	Timeout time.Duration
}

// ParseEndpoint builds an endpoint from a URL. https:// is DNS-over-HTTPS,
// tls:// DNS-over-TLS, dtls:// DNS-over-DTLS, udp:// and tcp:// are plain DNS.
func ParseEndpoint(id, s string) (Endpoint, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid upstream '%s'", s)
	}
	e := Endpoint{ID: id}
	switch u.Scheme {
	case "https":
		e.Protocol = ProtocolDoH
		e.Address = s
		return e, nil
	case "tls", "dot":
		e.Protocol = ProtocolDoT
		e.Address = AddressWithDefault(u.Host, DoTPort)
	case "dtls":
		e.Protocol = ProtocolDTLS
		e.Address = AddressWithDefault(u.Host, DTLSPort)
	case "udp":
		e.Protocol = ProtocolUDP
		e.Address = AddressWithDefault(u.Host, PlainDNSPort)
	case "tcp":
		e.Protocol = ProtocolTCP
		e.Address = AddressWithDefault(u.Host, PlainDNSPort)
	default:
		return Endpoint{}, fmt.Errorf("unsupported upstream scheme '%s' in '%s'", u.Scheme, s)
	}
	if err := validEndpoint(e.Address); err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid upstream '%s'", s)
	}
	return e, nil
}

// NewUpstream instantiates the client for an endpoint.
func NewUpstream(e Endpoint) (Upstream, error) {
	id := e.ID
	if id == "" {
		id = e.Address
	}
	switch e.Protocol {
	case ProtocolDoH:
		tlsConfig, err := TLSClientConfig(e.CAFile, e.ClientCrtFile, e.ClientKeyFile, e.ServerName)
		if err != nil {
			return nil, err
		}
		return NewDoHClient(id, e.Address, DoHClientOptions{
			Method:        e.Method,
			BootstrapAddr: e.BootstrapAddr,
			Transport:     e.Transport,
			LocalAddr:     e.LocalAddr,
			TLSConfig:     tlsConfig,
			QueryTimeout:  e.Timeout,
		})
	case ProtocolDoT:
		tlsConfig, err := TLSClientConfig(e.CAFile, e.ClientCrtFile, e.ClientKeyFile, e.ServerName)
		if err != nil {
			return nil, err
		}
		opt := DoTClientOptions{
			BootstrapAddr: e.BootstrapAddr,
			LocalAddr:     e.LocalAddr,
			TLSConfig:     tlsConfig,
			QueryTimeout:  e.Timeout,
		}
		if e.Socks5Address != "" {
			opt.Dialer = NewSocks5Dialer(e.Socks5Address, e.Socks5)
		}
		return NewDoTClient(id, e.Address, opt)
	case ProtocolDTLS:
		dtlsConfig, err := DTLSClientConfig(e.CAFile, e.ClientCrtFile, e.ClientKeyFile)
		if err != nil {
			return nil, err
		}
		return NewDTLSClient(id, e.Address, DTLSClientOptions{
			BootstrapAddr: e.BootstrapAddr,
			LocalAddr:     e.LocalAddr,
			DTLSConfig:    dtlsConfig,
			QueryTimeout:  e.Timeout,
		})
	case ProtocolUDP, ProtocolTCP:
		return NewDNSClient(id, e.Address, string(e.Protocol), DNSClientOptions{
			LocalAddr:    e.LocalAddr,
			QueryTimeout: e.Timeout,
		})
	}
	return nil, fmt.Errorf("unsupported protocol '%s' for upstream '%s'", e.Protocol, id)
}

// NewUpstreams instantiates clients for a list of endpoints, preserving their order.
func NewUpstreams(endpoints ...Endpoint) ([]Upstream, error) {
	upstreams := make([]Upstream, 0, len(endpoints))
	for _, e := range endpoints {
		u, err := NewUpstream(e)
		if err != nil {
			return nil, err
		}
		upstreams = append(upstreams, u)
	}
	return upstreams, nil
}
