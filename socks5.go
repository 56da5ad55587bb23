package dnsrelay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/txthinking/socks5"
)

// Socks5Dialer opens upstream connections through a SOCKS5 proxy.
type Socks5Dialer struct {
	*socks5.Client
	opt Socks5DialerOptions

	once sync.Once
	addr string
}

type Socks5DialerOptions struct {
	Username   string
	Password   string
	UDPTimeout time.Duration
	TCPTimeout time.Duration
	LocalAddr  net.IP

	// When the upstream is configured with a name, not an IP, e.g. one.one.one.one:853
	// this setting will resolve that name locally rather than on the SOCKS proxy.
	ResolveLocal bool
}

var _ Dialer = (*Socks5Dialer)(nil)

func NewSocks5Dialer(addr string, opt Socks5DialerOptions) *Socks5Dialer {
	client, _ := socks5.NewClient(
		addr,
		opt.Username,
		opt.Password,
		int(opt.TCPTimeout.Seconds()),
		int(opt.UDPTimeout.Seconds()),
	)
	return &Socks5Dialer{Client: client, opt: opt}
}

func (d *Socks5Dialer) Dial(network string, address string) (net.Conn, error) {
	d.once.Do(func() {
		d.addr = address

		// If the address uses a hostname and ResolveLocal is enabled, lookup
		// the IP for it locally and use that when talking to the proxy going
		// forward. This avoids the upstream's name leaking out from the proxy.
		if !d.opt.ResolveLocal {
			return
		}
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			Log.WithError(err).Error("failed to parse socks5 address")
			return
		}
		if ip := net.ParseIP(host); ip != nil {
			return
		}
		Log.WithField("addr", host).Debug("resolving upstream locally")
		timeout := d.opt.UDPTimeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		if err != nil || len(ips) == 0 {
			Log.WithFields(logrus.Fields{"host": host, "error": err}).Error("failed to resolve upstream locally, forwarding name to socks5 proxy")
			return
		}
		d.addr = net.JoinHostPort(ips[0].String(), port)
	})

	if d.opt.LocalAddr != nil {
		return d.Client.DialWithLocalAddr(network, d.opt.LocalAddr.String(), d.addr, nil)
	}
	return d.Client.Dial(network, d.addr)
}
