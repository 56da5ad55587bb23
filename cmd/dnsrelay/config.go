package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	rdns "github.com/folbricht/dnsrelay"
	"github.com/pkg/errors"
)

type config struct {
	Log       logConfig
	Listener  listener
	Upstreams map[string]upstream
	Admin     admin

	// Upstream IDs in the order they appear in the file
	order []string
}

type logConfig struct {
	Verbosity string
	Syslog    *syslogConfig
}

type syslogConfig struct {
	Network  string
	Address  string
	Priority int
	Tag      string
}

type listener struct {
	Bind       []string
	UDPSize    int      `toml:"udp-size"`
	AllowedNet []string `toml:"allowed-net"`
	QueryRate  float64  `toml:"query-rate"`
	QueryBurst int      `toml:"query-burst"`
}

type upstream struct {
	Address       string
	Protocol      string
	Method        string
	Transport     string
	BootstrapAddr string `toml:"bootstrap-address"`
	LocalAddr     string `toml:"local-address"`
	ServerName    string `toml:"server-name"`
	CA            string
	ClientKey     string `toml:"client-key"`
	ClientCrt     string `toml:"client-crt"`
	Timeout       duration
	Socks5Address string `toml:"socks5-address"`
	Socks5        socks5Config
}

type socks5Config struct {
	Username     string
	Password     string
	ResolveLocal bool `toml:"resolve-local"`
}

type admin struct {
	Address   string
	Transport string
	CA        string
	ServerKey string `toml:"server-key"`
	ServerCrt string `toml:"server-crt"`
}

// duration decodes TOML strings like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// loadConfig reads a config file and returns the decoded structure.
func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	md, err := toml.NewDecoder(f).Decode(&c)
	if err != nil {
		return c, errors.Wrapf(err, "failed to parse config '%s'", name)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return c, fmt.Errorf("unknown config key '%s' in '%s'", undecoded[0], name)
	}
	// TOML tables are unordered when decoded into a map, but the upstream
	// order matters. Keys() returns them in the order they appear.
	for _, key := range md.Keys() {
		if len(key) == 2 && key[0] == "upstreams" {
			c.order = append(c.order, key[1])
		}
	}
	return c, nil
}

// Returns the upstream endpoints in the configured order.
func (c config) endpoints() ([]rdns.Endpoint, error) {
	var endpoints []rdns.Endpoint
	for _, id := range c.order {
		u := c.Upstreams[id]
		e := rdns.Endpoint{
			ID:            id,
			Protocol:      rdns.Protocol(u.Protocol),
			Method:        u.Method,
			Transport:     u.Transport,
			BootstrapAddr: u.BootstrapAddr,
			CAFile:        u.CA,
			ClientCrtFile: u.ClientCrt,
			ClientKeyFile: u.ClientKey,
			ServerName:    u.ServerName,
			Timeout:       u.Timeout.Duration,
			Socks5Address: u.Socks5Address,
			Socks5: rdns.Socks5DialerOptions{
				Username:     u.Socks5.Username,
				Password:     u.Socks5.Password,
				ResolveLocal: u.Socks5.ResolveLocal,
			},
		}
		if u.LocalAddr != "" {
			if e.LocalAddr = net.ParseIP(u.LocalAddr); e.LocalAddr == nil {
				return nil, fmt.Errorf("invalid local-address '%s' for upstream '%s'", u.LocalAddr, id)
			}
		}
		switch e.Protocol {
		case rdns.ProtocolDoH:
			e.Address = u.Address
		case rdns.ProtocolDoT:
			e.Address = rdns.AddressWithDefault(u.Address, rdns.DoTPort)
		case rdns.ProtocolDTLS:
			e.Address = rdns.AddressWithDefault(u.Address, rdns.DTLSPort)
		case rdns.ProtocolUDP, rdns.ProtocolTCP:
			e.Address = rdns.AddressWithDefault(u.Address, rdns.PlainDNSPort)
		case "":
			// Protocol taken from the URL scheme
			parsed, err := rdns.ParseEndpoint(id, u.Address)
			if err != nil {
				return nil, err
			}
			e.Protocol = parsed.Protocol
			e.Address = parsed.Address
		default:
			return nil, fmt.Errorf("unsupported protocol '%s' for upstream '%s'", u.Protocol, id)
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, nil
}

func (c config) dispatcherOptions() (rdns.DispatcherOptions, error) {
	opt := rdns.DispatcherOptions{
		UDPSize:    c.Listener.UDPSize,
		QueryRate:  c.Listener.QueryRate,
		QueryBurst: c.Listener.QueryBurst,
	}
	for _, s := range c.Listener.AllowedNet {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return opt, errors.Wrapf(err, "invalid allowed-net '%s'", s)
		}
		opt.AllowedNet = append(opt.AllowedNet, n)
	}
	return opt, nil
}
