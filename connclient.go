package dnsrelay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Default time allowed for one round trip including connection setup.
const defaultQueryTimeout = 5 * time.Second

// Number of idle connections kept per upstream.
const maxIdleConns = 4

// connDialer opens a new connection to an upstream.
type connDialer func(ctx context.Context) (*dns.Conn, error)

// connClient sends raw queries over connections opened by a dialer. Stream
// transports (TCP, TLS) are length-prefixed by dns.Conn, datagram transports
// send one message per packet. Idle connections are kept and reused.
type connClient struct {
	id       string
	endpoint string
	protocol string
	timeout  time.Duration
	dial     connDialer
	metrics  *UpstreamMetrics

	mu   sync.Mutex
	idle []*dns.Conn
}

func newConnClient(id, endpoint, protocol string, timeout time.Duration, dial connDialer) *connClient {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &connClient{
		id:       id,
		endpoint: endpoint,
		protocol: protocol,
		timeout:  timeout,
		dial:     dial,
		metrics:  NewUpstreamMetrics(id),
	}
}

// Send a query and wait for the response.
func (c *connClient) Send(ctx context.Context, q []byte) ([]byte, error) {
	log := logger(c.id, logrus.Fields{
		"upstream": c.endpoint,
		"protocol": c.protocol,
	})
	log.Debug("querying upstream resolver")
	c.metrics.query.Add(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, reused, err := c.get(ctx)
	if err != nil {
		c.metrics.err.Add("dial", 1)
		return nil, upstreamError(c.id, c.timeoutError(ctx, err))
	}
	a, err := c.roundTrip(ctx, conn, q)

	// The upstream may have closed an idle connection since it was last used.
	// Open a new one unless the deadline has passed already.
	if err != nil && reused && ctx.Err() == nil && isConnClosed(err) {
		log.WithError(err).Debug("idle connection closed by upstream, reconnecting")
		conn.Close()
		conn, err = c.dial(ctx)
		if err != nil {
			c.metrics.err.Add("dial", 1)
			return nil, upstreamError(c.id, c.timeoutError(ctx, err))
		}
		a, err = c.roundTrip(ctx, conn, q)
	}
	if err != nil {
		conn.Close()
		c.metrics.err.Add("exchange", 1)
		return nil, upstreamError(c.id, c.timeoutError(ctx, err))
	}
	c.put(conn)
	c.metrics.response.Add(1)
	return a, nil
}

func (c *connClient) roundTrip(ctx context.Context, conn *dns.Conn, q []byte) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := conn.Write(q); err != nil {
		return nil, err
	}
	buf := make([]byte, dns.MaxMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("empty response")
	}
	return buf[:n], nil
}

// Returns an idle connection or opens a new one. The boolean is true if the
// connection was used before.
func (c *connClient) get(ctx context.Context) (*dns.Conn, bool, error) {
	c.mu.Lock()
	if n := len(c.idle); n > 0 {
		conn := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return conn, true, nil
	}
	c.mu.Unlock()
	Log.WithFields(logrus.Fields{"id": c.id, "upstream": c.endpoint}).Trace("opening connection")
	conn, err := c.dial(ctx)
	return conn, false, err
}

func (c *connClient) put(conn *dns.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.idle) >= maxIdleConns {
		conn.Close()
		return
	}
	c.idle = append(c.idle, conn)
}

// Close all idle connections.
func (c *connClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.idle {
		conn.Close()
	}
	c.idle = nil
	return nil
}

func (c *connClient) timeoutError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return QueryTimeoutError{After: c.timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return QueryTimeoutError{After: c.timeout}
	}
	return err
}

func isConnClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
