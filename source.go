package dnsrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	pkgerrors "github.com/pkg/errors"
)

// Request is a single datagram received from a client. The body is never
// interpreted, it is passed to upstreams as-is.
type Request struct {
	// Raw DNS message.
	Body []byte
	// Origin of the request, replies are sent here.
	Addr net.Addr
}

// RequestSource produces an unbounded sequence of requests from one local
// socket and sends replies back over the same socket.
type RequestSource interface {
	// Next blocks until a request is available. A *ReceiveError only affects
	// that one item, the sequence continues with the next call.
	Next(ctx context.Context) (Request, error)

	// Reply sends a response to the origin of a request.
	Reply(req Request, payload []byte) error

	Close() error
	fmt.Stringer
}

// UDPSourceOptions contains options for binding a UDP request source.
type UDPSourceOptions struct {
	// Largest datagram accepted, defaults to 4096 bytes. Datagrams above this
	// size are reported as receive errors rather than truncated.
	UDPSize int
}

// UDPSource is a RequestSource reading from a bound UDP socket. It is not
// safe to call Next concurrently.
type UDPSource struct {
	conn   *net.UDPConn
	addr   string
	size   int
	buf    []byte
	closed atomic.Bool
}

var _ RequestSource = &UDPSource{}

// Bind opens a UDP socket on the given address.
func Bind(addr string, opt UDPSourceOptions) (*UDPSource, error) {
	size := opt.UDPSize
	if size == 0 {
		size = dns.DefaultMsgSize
	}
	if size < dns.MinMsgSize || size > dns.MaxMsgSize {
		return nil, fmt.Errorf("invalid udp size %d, must be between %d and %d", size, dns.MinMsgSize, dns.MaxMsgSize)
	}
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid bind address '%s'", addr)
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to bind '%s'", addr)
	}
	return &UDPSource{
		conn: conn,
		addr: conn.LocalAddr().String(),
		size: size,
		// One extra byte to detect datagrams that don't fit.
		buf: make([]byte, size+1),
	}, nil
}

// Next waits for the next datagram or for ctx to be cancelled, whichever
// comes first.
func (s *UDPSource) Next(ctx context.Context) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	if s.closed.Load() {
		return Request{}, ErrSourceClosed
	}

	// Clear a deadline that may have been left by an earlier cancellation.
	_ = s.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	n, addr, err := s.conn.ReadFromUDP(s.buf)
	stop()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Request{}, ctxErr
		}
		if errors.Is(err, net.ErrClosed) {
			return Request{}, ErrSourceClosed
		}
		return Request{}, &ReceiveError{Addr: s.addr, Err: err}
	}
	if n > s.size {
		return Request{}, &ReceiveError{
			Addr: s.addr,
			Err:  fmt.Errorf("datagram from %s exceeds %d bytes", addr, s.size),
		}
	}
	body := make([]byte, n)
	copy(body, s.buf[:n])
	return Request{Body: body, Addr: addr}, nil
}

// Reply writes the payload as a single datagram to the request's origin.
func (s *UDPSource) Reply(req Request, payload []byte) error {
	_, err := s.conn.WriteTo(payload, req.Addr)
	return err
}

// Addr returns the local address the socket is bound to.
func (s *UDPSource) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Close the socket. Any blocked Next returns ErrSourceClosed.
func (s *UDPSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

func (s *UDPSource) String() string {
	return s.addr
}
