package dnsrelay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// Starts an HTTPS server answering DoH requests by echoing the query.
func startTestDoHServer(t *testing.T) (*httptest.Server, *tls.Config) {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			q   []byte
			err error
		)
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("content-type") != "application/dns-message" {
				http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
				return
			}
			q, err = io.ReadAll(r.Body)
		case http.MethodGet:
			q, err = base64.RawURLEncoding.DecodeString(r.URL.Query().Get("dns"))
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err != nil || len(q) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("content-type", "application/dns-message")
		w.Write(q)
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return srv, &tls.Config{RootCAs: pool}
}

func TestDoHClientPOST(t *testing.T) {
	srv, tlsConfig := startTestDoHServer(t)
	c, err := NewDoHClient("test-doh-post", srv.URL+"/dns-query", DoHClientOptions{TLSConfig: tlsConfig})
	require.NoError(t, err)

	q := []byte{0x12, 0x34, 0x01, 0x00, 0x00, 0x01}
	resp, err := c.Send(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, q, resp)
}

func TestDoHClientGET(t *testing.T) {
	srv, tlsConfig := startTestDoHServer(t)

	// With and without template in the URL
	for _, endpoint := range []string{srv.URL + "/dns-query", srv.URL + "/dns-query{?dns}"} {
		c, err := NewDoHClient("test-doh-get", endpoint, DoHClientOptions{Method: "GET", TLSConfig: tlsConfig})
		require.NoError(t, err)

		q := []byte{0xff, 0xfe, 0x01, 0x00, 0x00, 0x01}
		resp, err := c.Send(context.Background(), q)
		require.NoError(t, err)
		require.Equal(t, q, resp)
	}
}

func TestDoHClientHTTPError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	c, err := NewDoHClient("test-doh-error", srv.URL, DoHClientOptions{TLSConfig: &tls.Config{RootCAs: pool}})
	require.NoError(t, err)
	_, err = c.Send(context.Background(), []byte("query"))
	var uErr *UpstreamError
	require.ErrorAs(t, err, &uErr)
	require.Equal(t, "test-doh-error", uErr.Upstream)
}

func TestDoHClientEmptyResponse(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	c, err := NewDoHClient("test-doh-empty", srv.URL, DoHClientOptions{TLSConfig: &tls.Config{RootCAs: pool}})
	require.NoError(t, err)
	resp, err := c.Send(context.Background(), []byte("query"))
	require.Error(t, err)
	require.Nil(t, resp)
}

func TestDoHClientOptions(t *testing.T) {
	_, err := NewDoHClient("test", "https://127.0.0.1/dns-query", DoHClientOptions{Method: "PUT"})
	require.Error(t, err)
	_, err = NewDoHClient("test", "https://127.0.0.1/dns-query", DoHClientOptions{Transport: "sctp"})
	require.Error(t, err)
	_, err = NewDoHClient("test", "https://127.0.0.1/dns-query", DoHClientOptions{Transport: "quic"})
	require.NoError(t, err)
}
