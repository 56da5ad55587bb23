package dnsrelay

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// Starts a DNS-over-TLS server echoing every message. If closeAfter is > 0,
// connections are closed after that many messages. Returns the address and a
// counter of accepted connections.
func startTestDoTServer(t *testing.T, certs testCerts, closeAfter int) (string, *atomic.Int32) {
	t.Helper()
	tlsConfig, err := TLSServerConfig("", certs.ServerCrt, certs.ServerKey, false)
	require.NoError(t, err)
	l, err := tls.Listen("tcp", "127.0.0.1:0", tlsConfig)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	accepted := new(atomic.Int32)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				defer conn.Close()
				dc := &dns.Conn{Conn: conn}
				buf := make([]byte, dns.MaxMsgSize)
				for i := 0; closeAfter == 0 || i < closeAfter; i++ {
					n, err := dc.Read(buf)
					if err != nil {
						return
					}
					if _, err := dc.Write(buf[:n]); err != nil {
						return
					}
				}
			}()
		}
	}()
	return l.Addr().String(), accepted
}

func TestDoTClientSimple(t *testing.T) {
	certs := newTestCerts(t)
	addr, accepted := startTestDoTServer(t, certs, 0)

	tlsConfig, err := TLSClientConfig(certs.CA, "", "", "")
	require.NoError(t, err)
	c, err := NewDoTClient("test-dot", addr, DoTClientOptions{TLSConfig: tlsConfig})
	require.NoError(t, err)
	defer c.Close()

	// Sequential queries share one connection
	for _, q := range [][]byte{[]byte("first"), []byte("second"), {0x00, 0x01, 0xff}} {
		resp, err := c.Send(context.Background(), q)
		require.NoError(t, err)
		require.Equal(t, q, resp)
	}
	require.Equal(t, int32(1), accepted.Load())
}

func TestDoTClientReconnect(t *testing.T) {
	certs := newTestCerts(t)
	addr, accepted := startTestDoTServer(t, certs, 1)

	tlsConfig, err := TLSClientConfig(certs.CA, "", "", "")
	require.NoError(t, err)
	c, err := NewDoTClient("test-dot-reconnect", addr, DoTClientOptions{TLSConfig: tlsConfig})
	require.NoError(t, err)
	defer c.Close()

	// The server closes each connection after one answer, the client has to
	// open a new one every time
	for i := 0; i < 3; i++ {
		resp, err := c.Send(context.Background(), []byte("query"))
		require.NoError(t, err)
		require.Equal(t, []byte("query"), resp)
	}
	require.Equal(t, int32(3), accepted.Load())
}

func TestDoTClientBootstrap(t *testing.T) {
	certs := newTestCerts(t)
	addr, _ := startTestDoTServer(t, certs, 0)
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	// Connect to the IP, but verify the certificate against the hostname
	tlsConfig, err := TLSClientConfig(certs.CA, "", "", "")
	require.NoError(t, err)
	c, err := NewDoTClient("test-dot-bootstrap", net.JoinHostPort("localhost", port), DoTClientOptions{
		BootstrapAddr: "127.0.0.1",
		TLSConfig:     tlsConfig,
	})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Send(context.Background(), []byte("query"))
	require.NoError(t, err)
	require.Equal(t, []byte("query"), resp)
}

func TestDoTClientUntrusted(t *testing.T) {
	certs := newTestCerts(t)
	addr, _ := startTestDoTServer(t, certs, 0)

	// System roots don't include the test CA
	c, err := NewDoTClient("test-dot-untrusted", addr, DoTClientOptions{})
	require.NoError(t, err)
	_, err = c.Send(context.Background(), []byte("query"))
	var uErr *UpstreamError
	require.ErrorAs(t, err, &uErr)
}
