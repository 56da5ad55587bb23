package dnsrelay

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Orchestrator runs one dispatcher per bind address. Only one relay instance
// can be active per orchestrator at a time.
type Orchestrator struct {
	opt DispatcherOptions

	mu     sync.Mutex
	active *Instance
}

// Instance is a running relay, returned by Orchestrator.Start.
type Instance struct {
	o           *Orchestrator
	cancel      context.CancelFunc
	dispatchers []*Dispatcher
	errs        []error
	done        chan struct{}
}

// NewOrchestrator returns an orchestrator starting dispatchers with the given
// options.
func NewOrchestrator(opt DispatcherOptions) *Orchestrator {
	return &Orchestrator{opt: opt}
}

// Start launches a dispatcher for every bind address, all of them sharing the
// same upstreams. It returns ErrAlreadyRunning without touching the active
// instance if there is one. A dispatcher that fails, for example because its
// address can't be bound, doesn't affect the others.
func (o *Orchestrator) Start(binds []string, upstreams []Upstream) (*Instance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		o:      o,
		cancel: cancel,
		errs:   make([]error, len(binds)),
		done:   make(chan struct{}),
	}
	for _, addr := range binds {
		inst.dispatchers = append(inst.dispatchers, NewDispatcher(addr, addr, upstreams, o.opt))
	}
	o.active = inst

	var wg sync.WaitGroup
	for i, d := range inst.dispatchers {
		wg.Add(1)
		go func(i int, d *Dispatcher) {
			defer wg.Done()
			if err := d.Serve(ctx); err != nil {
				Log.WithFields(logrus.Fields{"id": d.id, "addr": d.addr}).WithError(err).Error("error in listener")
				inst.errs[i] = err
			}
		}(i, d)
	}
	go func() {
		wg.Wait()
		inst.release()
		close(inst.done)
	}()
	return inst, nil
}

// Run starts the relay and blocks until all dispatchers have finished, after
// ctx is cancelled or Stop is called. Individual dispatcher failures are
// logged, they don't fail the run.
func (o *Orchestrator) Run(ctx context.Context, binds []string, upstreams []Upstream) error {
	inst, err := o.Start(binds, upstreams)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, inst.Stop)
	defer stop()
	// Failures were already logged by each dispatcher
	_ = inst.Wait()
	return nil
}

// Stop signals the active instance, if any, to shut down. A new instance can
// be started right after. Calling Stop when nothing is running is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	inst := o.active
	o.active = nil
	o.mu.Unlock()
	if inst != nil {
		Log.Info("shutting down")
		inst.cancel()
	}
}

// Stop signals all dispatchers of this instance to shut down. It does not
// wait for them, use Wait for that. Safe to call multiple times.
func (i *Instance) Stop() {
	i.release()
}

// Cancel the instance and free the orchestrator slot if it is still ours.
func (i *Instance) release() {
	i.o.mu.Lock()
	if i.o.active == i {
		i.o.active = nil
	}
	i.o.mu.Unlock()
	i.cancel()
}

// Wait blocks until all dispatchers have finished and returns their errors.
func (i *Instance) Wait() error {
	<-i.done
	return errors.Join(i.errs...)
}

// Done is closed once all dispatchers have finished.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Dispatchers returns the dispatchers of this instance, one per bind address.
func (i *Instance) Dispatchers() []*Dispatcher {
	return i.dispatchers
}
