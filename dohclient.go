package dnsrelay

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// DoHClientOptions contains options used by the DNS-over-HTTPS upstream.
type DoHClientOptions struct {
	// Query method, either GET or POST. If empty, POST is used.
	Method string

	// Bootstrap address - IP to use for the service instead of looking up
	// the service's hostname with potentially plain DNS.
	BootstrapAddr string

	// Transport protocol to run HTTPS over. "quic" or "tcp", defaults to "tcp".
	Transport string

	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	TLSConfig *tls.Config

	// Time allowed for the whole request, defaults to 5 seconds.
	QueryTimeout time.Duration
}

// DoHClient is a DNS-over-HTTPS upstream with support for HTTP/2 and HTTP/3.
type DoHClient struct {
	id       string
	endpoint string
	template *uritemplates.UriTemplate
	client   *http.Client
	opt      DoHClientOptions
	metrics  *UpstreamMetrics
}

var _ Upstream = &DoHClient{}

func NewDoHClient(id, endpoint string, opt DoHClientOptions) (*DoHClient, error) {
	if opt.Method == "" {
		opt.Method = "POST"
	}
	if opt.Method != "POST" && opt.Method != "GET" {
		return nil, fmt.Errorf("unsupported method '%s'", opt.Method)
	}
	if opt.QueryTimeout == 0 {
		opt.QueryTimeout = defaultQueryTimeout
	}

	// GET needs a template to carry the query, add the standard one if the
	// URL doesn't have it.
	tmpl := endpoint
	if opt.Method == "GET" && !strings.Contains(tmpl, "{") {
		tmpl += "{?dns}"
	}
	template, err := uritemplates.Parse(tmpl)
	if err != nil {
		return nil, err
	}

	var tr http.RoundTripper
	switch opt.Transport {
	case "tcp", "":
		tr, err = dohTcpTransport(opt)
	case "quic":
		tr, err = dohQuicTransport(endpoint, opt)
	default:
		err = fmt.Errorf("unknown protocol: '%s'", opt.Transport)
	}
	if err != nil {
		return nil, err
	}

	return &DoHClient{
		id:       id,
		endpoint: endpoint,
		template: template,
		client: &http.Client{
			Transport: tr,
			Timeout:   opt.QueryTimeout,
		},
		opt:     opt,
		metrics: NewUpstreamMetrics(id),
	}, nil
}

// Send a raw DNS query to the upstream and return the raw response.
func (d *DoHClient) Send(ctx context.Context, q []byte) ([]byte, error) {
	logger(d.id, logrus.Fields{
		"upstream": d.endpoint,
		"protocol": "doh",
		"method":   d.opt.Method,
	}).Debug("querying upstream resolver")

	d.metrics.query.Add(1)
	var (
		req *http.Request
		err error
	)
	switch d.opt.Method {
	case "POST":
		req, err = d.requestPOST(ctx, q)
	case "GET":
		req, err = d.requestGET(ctx, q)
	default:
		err = errors.New("unsupported method")
	}
	if err != nil {
		return nil, upstreamError(d.id, err)
	}
	req.Header.Add("accept", "application/dns-message")

	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.err.Add(strings.ToLower(d.opt.Method), 1)
		return nil, upstreamError(d.id, err)
	}
	defer resp.Body.Close()
	a, err := d.responseFromHTTP(resp)
	if err != nil {
		return nil, upstreamError(d.id, err)
	}
	d.metrics.response.Add(1)
	return a, nil
}

// Build a POST request with the query in the body.
func (d *DoHClient) requestPOST(ctx context.Context, q []byte) (*http.Request, error) {
	// The URL could be a template. Process it without values since POST doesn't use variables in the URL.
	u, err := d.template.Expand(map[string]interface{}{})
	if err != nil {
		d.metrics.err.Add("template", 1)
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(q))
	if err != nil {
		d.metrics.err.Add("http", 1)
		return nil, err
	}
	req.Header.Add("content-type", "application/dns-message")
	return req, nil
}

// Build a GET request with the query base64url-encoded in the URL.
func (d *DoHClient) requestGET(ctx context.Context, q []byte) (*http.Request, error) {
	b64 := base64.RawURLEncoding.EncodeToString(q)
	u, err := d.template.Expand(map[string]interface{}{"dns": b64})
	if err != nil {
		d.metrics.err.Add("template", 1)
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		d.metrics.err.Add("http", 1)
		return nil, err
	}
	return req, nil
}

func (d *DoHClient) String() string {
	return d.id
}

// Check the HTTP response status code and read the response message.
func (d *DoHClient) responseFromHTTP(resp *http.Response) ([]byte, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.metrics.err.Add(fmt.Sprintf("http%d", resp.StatusCode), 1)
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	rb, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize+1))
	if err != nil {
		d.metrics.err.Add("read", 1)
		return nil, err
	}
	switch {
	case len(rb) == 0:
		d.metrics.err.Add("empty", 1)
		return nil, errors.New("empty response")
	case len(rb) > dns.MaxMsgSize:
		d.metrics.err.Add("size", 1)
		return nil, fmt.Errorf("response exceeds %d bytes", dns.MaxMsgSize)
	}
	return rb, nil
}

func dohTcpTransport(opt DoHClientOptions) (http.RoundTripper, error) {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       opt.TLSConfig,
		DisableCompression:    true,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	// If we're using a custom tls.Config, HTTP2 isn't enabled by default in
	// the HTTP library. Turn it on for this transport.
	if tr.TLSClientConfig != nil {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, err
		}
	}

	// Use a custom dialer if a bootstrap address or local address was provided
	if opt.BootstrapAddr != "" || opt.LocalAddr != nil {
		d := net.Dialer{LocalAddr: &net.TCPAddr{IP: opt.LocalAddr}}
		tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if opt.BootstrapAddr != "" {
				_, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				addr = net.JoinHostPort(opt.BootstrapAddr, port)
			}
			return d.DialContext(ctx, network, addr)
		}
	}
	return tr, nil
}

func dohQuicTransport(endpoint string, opt DoHClientOptions) (http.RoundTripper, error) {
	var tlsConfig *tls.Config
	if opt.TLSConfig == nil {
		tlsConfig = new(tls.Config)
	} else {
		tlsConfig = opt.TLSConfig.Clone()
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = u.Hostname()
	}
	lAddr := net.IPv4zero
	if opt.LocalAddr != nil {
		lAddr = opt.LocalAddr
	}

	// When using a custom dialer, we have to track/close connections ourselves
	pool := new(udpConnPool)
	dialer := func(ctx context.Context, addr string, tlsConfig *tls.Config, config *quic.Config) (quic.EarlyConnection, error) {
		if opt.BootstrapAddr != "" {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			addr = net.JoinHostPort(opt.BootstrapAddr, port)
		}
		return quicDial(ctx, addr, lAddr, tlsConfig, config, pool)
	}

	tr := &http3.Transport{
		TLSClientConfig: tlsConfig,
		QUICConfig: &quic.Config{
			TokenStore: quic.NewLRUTokenStore(10, 10),
		},
		Dial: dialer,
	}
	return &http3ReliableRoundTripper{tr, pool}, nil
}

func quicDial(ctx context.Context, rAddr string, lAddr net.IP, tlsConfig *tls.Config, config *quic.Config, pool *udpConnPool) (quic.EarlyConnection, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", rAddr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: lAddr, Port: 0})
	if err != nil {
		return nil, err
	}
	pool.add(udpConn)
	return quic.DialEarly(ctx, udpConn, udpAddr, tlsConfig, config)
}

// Wrapper for http3.Transport that transparently re-opens expired connections,
// see https://github.com/quic-go/quic-go/issues/765.
type http3ReliableRoundTripper struct {
	*http3.Transport
	pool *udpConnPool
}

func (r *http3ReliableRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.Transport.RoundTrip(req)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && req.Context().Err() == nil {
		r.pool.closeAll()
		r.Transport.Close()
		resp, err = r.Transport.RoundTrip(req)
	}
	return resp, err
}

// UDP connection pool. When using a custom dialer that opens its own UDP
// connections, http3.Transport doesn't close them when the remote terminates a
// connection, or when calling Close(). So we have to keep track of the
// connections and close them all before calling Close() on the transport.
type udpConnPool struct {
	conns []*net.UDPConn
	mu    sync.Mutex
}

func (p *udpConnPool) add(conn *net.UDPConn) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = append(p.conns, conn)
}

func (p *udpConnPool) closeAll() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		conn.Close()
	}
	p.conns = nil
}
