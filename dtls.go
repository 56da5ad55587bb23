package dnsrelay

import (
	"bytes"
	"crypto/tls"
	"net"

	"github.com/pion/dtls/v2"
)

// DTLSClientConfig builds a dtls.Config for DNS-over-DTLS upstreams from
// optional CA, certificate and key files.
func DTLSClientConfig(caFile, crtFile, keyFile string) (*dtls.Config, error) {
	dtlsConfig := &dtls.Config{}

	// Add client key/cert if provided
	if crtFile != "" && keyFile != "" {
		certificate, err := tls.LoadX509KeyPair(crtFile, keyFile)
		if err != nil {
			return nil, err
		}
		dtlsConfig.Certificates = []tls.Certificate{certificate}
	}

	// Load custom CA set if provided
	if caFile != "" {
		certPool, err := loadCertPool(caFile)
		if err != nil {
			return nil, err
		}
		dtlsConfig.RootCAs = certPool
	}
	return dtlsConfig, nil
}

// dtlsConn wraps a dtls.Conn to support partial read operations. While
// github.com/pion/dtls/v2 returns a net.Conn, that Read() fails on
// slices that are smaller than the data available. This wrapper adds a
// buffer to allow github.com/miekg/dns to first read 2 bytes (size) and
// then the rest of the DNS packet.
type dtlsConn struct {
	net.Conn
	buf *bytes.Buffer
}

func (c *dtlsConn) Read(b []byte) (int, error) {
	var (
		n   int
		err error
	)
	if c.buf == nil || c.buf.Len() == 0 {
		tmp := make([]byte, 65536)
		n, err = c.Conn.Read(tmp)
		c.buf = bytes.NewBuffer(tmp[:n])
	}
	n, _ = c.buf.Read(b)
	return n, err
}
