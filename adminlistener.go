package dnsrelay

import (
	"context"
	"crypto/tls"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
)

// Read/Write timeout in the admin server
const adminServerTimeout = 10 * time.Second

// AdminListener serves the relay metrics over HTTP(S).
type AdminListener struct {
	httpServer *http.Server
	quicServer *http3.Server

	id   string
	addr string
	opt  AdminListenerOptions

	mux *http.ServeMux
}

// AdminListenerOptions contains options used by the admin service.
type AdminListenerOptions struct {
	// Transport protocol to run HTTPS over. "quic" or "tcp", defaults to "tcp".
	Transport string

	// Without TLS config, the TCP listener serves plain HTTP. QUIC requires it.
	TLSConfig *tls.Config
}

// NewAdminListener returns an instance of an admin service listener.
func NewAdminListener(id, addr string, opt AdminListenerOptions) (*AdminListener, error) {
	switch opt.Transport {
	case "tcp", "":
		opt.Transport = "tcp"
	case "quic":
		if opt.TLSConfig == nil {
			return nil, errors.New("admin listener over quic requires tls")
		}
	default:
		return nil, fmt.Errorf("unknown protocol: '%s'", opt.Transport)
	}

	l := &AdminListener{
		id:   id,
		addr: addr,
		opt:  opt,
		mux:  http.NewServeMux(),
	}
	l.mux.Handle("/dnsrelay/vars", expvar.Handler())
	if opt.Transport == "quic" {
		l.quicServer = &http3.Server{
			Addr:       addr,
			TLSConfig:  opt.TLSConfig,
			Handler:    l.mux,
			QUICConfig: &quic.Config{},
		}
	} else {
		l.httpServer = &http.Server{
			Addr:         addr,
			TLSConfig:    opt.TLSConfig,
			Handler:      l.mux,
			ReadTimeout:  adminServerTimeout,
			WriteTimeout: adminServerTimeout,
		}
	}
	return l, nil
}

// Start the admin server. Blocks until the server is stopped.
func (s *AdminListener) Start() error {
	s.log().Info("starting listener")
	if s.quicServer != nil {
		return s.quicServer.ListenAndServe()
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	if s.opt.TLSConfig == nil {
		err = s.httpServer.Serve(ln)
	} else {
		err = s.httpServer.ServeTLS(ln, "", "")
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop the server.
func (s *AdminListener) Stop() error {
	s.log().Info("stopping listener")
	if s.quicServer != nil {
		return s.quicServer.Close()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(context.Background())
	}
	return nil
}

func (s *AdminListener) log() *logrus.Entry {
	return logger(s.id, logrus.Fields{"protocol": s.opt.Transport, "addr": s.addr})
}

func (s *AdminListener) String() string {
	return s.id
}
