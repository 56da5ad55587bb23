package dnsrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DispatcherState is the lifecycle stage of a dispatcher.
type DispatcherState int32

const (
	StateIdle DispatcherState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s DispatcherState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("DispatcherState(%d)", int32(s))
}

// DispatcherOptions contains options shared by all dispatchers of a relay.
type DispatcherOptions struct {
	// Largest request datagram accepted. Defaults to 4096.
	UDPSize int

	// Networks allowed to use the relay. Requests from other sources are
	// dropped. Empty allows all.
	AllowedNet []*net.IPNet

	// Maximum number of requests per second, 0 is unlimited. Requests above
	// the limit are dropped.
	QueryRate float64

	// Burst size for QueryRate, defaults to 1.
	QueryBurst int
}

// Dispatcher serves one bind address. It forwards each request to the
// upstreams in order until one of them succeeds and replies with that
// response. Requests are handled one at a time.
type Dispatcher struct {
	id        string
	addr      string
	upstreams []Upstream
	opt       DispatcherOptions
	limiter   *rate.Limiter
	metrics   *ListenerMetrics
	state     atomic.Int32

	// Opens the request source, replaced in tests.
	bind func(addr string, opt UDPSourceOptions) (RequestSource, error)

	mu     sync.Mutex
	source RequestSource
}

// NewDispatcher returns a dispatcher for one bind address. The upstream list
// is used read-only and can be shared between dispatchers.
func NewDispatcher(id, addr string, upstreams []Upstream, opt DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		id:        id,
		addr:      addr,
		upstreams: upstreams,
		opt:       opt,
		metrics:   NewListenerMetrics("listener", id),
		bind: func(addr string, opt UDPSourceOptions) (RequestSource, error) {
			return Bind(addr, opt)
		},
	}
	if opt.QueryRate > 0 {
		burst := opt.QueryBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opt.QueryRate), burst)
	}
	return d
}

// Serve binds the socket and handles requests until ctx is cancelled.
//
// Cancellation is only observed while waiting for the next request. A request
// that is being forwarded is always completed first, upstream calls do not
// see the cancellation. A failure to write a reply ends Serve with an error.
func (d *Dispatcher) Serve(ctx context.Context) error {
	log := Log.WithFields(logrus.Fields{"id": d.id, "addr": d.addr})

	if err := validBindAddress(d.addr); err != nil {
		d.setState(StateStopped)
		return pkgerrors.Wrapf(err, "invalid bind address '%s'", d.addr)
	}
	src, err := d.bind(d.addr, UDPSourceOptions{UDPSize: d.opt.UDPSize})
	if err != nil {
		d.setState(StateStopped)
		return err
	}
	d.mu.Lock()
	d.source = src
	d.mu.Unlock()
	defer func() {
		src.Close()
		d.setState(StateStopped)
		log.Info("listener stopped")
	}()

	d.setState(StateRunning)
	log.Info("listening for dns requests")
	for {
		req, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.setState(StateDraining)
				log.Info("listener shutting down")
				return nil
			}
			var rErr *ReceiveError
			if errors.As(err, &rErr) {
				d.metrics.err.Add("receive", 1)
				log.WithError(err).Debug("error during receiving request")
				continue
			}
			return err
		}
		if err := d.forward(ctx, src, req); err != nil {
			return err
		}
	}
}

// Send the request to each upstream in order and reply with the first
// successful response. If all upstreams fail, the request is dropped and the
// client will retry on its own.
func (d *Dispatcher) forward(ctx context.Context, src RequestSource, req Request) error {
	ctx = context.WithoutCancel(ctx)
	log := Log.WithFields(logrus.Fields{
		"id":     d.id,
		"client": req.Addr,
		"size":   len(req.Body),
	})
	log.Trace("received request")
	d.metrics.query.Add(1)

	if !isAllowed(d.opt.AllowedNet, sourceIP(req.Addr)) {
		d.metrics.drop.Add("acl", 1)
		log.Debug("refusing client ip")
		return nil
	}
	if d.limiter != nil && !d.limiter.Allow() {
		d.metrics.drop.Add("rate", 1)
		log.Debug("rate-limit reached, dropping")
		return nil
	}

	for _, u := range d.upstreams {
		log := log.WithField("upstream", u.String())
		resp, err := u.Send(ctx, req.Body)
		if err == nil && len(resp) == 0 {
			err = &UpstreamError{Upstream: u.String(), Err: errors.New("empty response")}
		}
		if err != nil {
			d.metrics.err.Add("upstream", 1)
			log.WithError(err).Error("error during sending request")
			continue
		}
		if err := src.Reply(req, resp); err != nil {
			d.metrics.err.Add("reply", 1)
			return pkgerrors.Wrapf(err, "failed to reply to %s", req.Addr)
		}
		d.metrics.response.Add(1)
		log.Trace("sent response")
		return nil
	}
	d.metrics.drop.Add("upstream", 1)
	log.Warn("all upstreams failed, dropping request")
	return nil
}

// State returns the current lifecycle stage.
func (d *Dispatcher) State() DispatcherState {
	return DispatcherState(d.state.Load())
}

func (d *Dispatcher) setState(s DispatcherState) {
	d.state.Store(int32(s))
}

// Addr returns the address the dispatcher is bound to, or nil before binding.
func (d *Dispatcher) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.source.(interface{ Addr() net.Addr }); ok {
		return s.Addr()
	}
	return nil
}

func (d *Dispatcher) String() string {
	return d.id
}

func sourceIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	}
	return nil
}

func isAllowed(allowedNet []*net.IPNet, ip net.IP) bool {
	if len(allowedNet) == 0 {
		return true
	}
	for _, n := range allowedNet {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
