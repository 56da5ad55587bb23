package dnsrelay

import (
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrAlreadyRunning is returned when starting a relay while another
	// instance is still active.
	ErrAlreadyRunning = errors.New("relay already started")

	// ErrSourceClosed is returned by a request source after it was closed.
	ErrSourceClosed = errors.New("request source closed")
)

// ReceiveError is a failure to read one datagram from a request source. It
// does not end the sequence of requests.
type ReceiveError struct {
	Addr string
	Err  error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("failed to receive on %s: %s", e.Addr, e.Err)
}

func (e *ReceiveError) Unwrap() error {
	return e.Err
}

// UpstreamError is returned by an upstream when a round trip failed.
type UpstreamError struct {
	Upstream string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Upstream, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// QueryTimeoutError is returned when an upstream did not answer in time.
type QueryTimeoutError struct {
	After time.Duration
}

func (e QueryTimeoutError) Error() string {
	return fmt.Sprintf("query timed out after %s", e.After)
}

var _ net.Error = QueryTimeoutError{}

// Timeout implements net.Error.
func (e QueryTimeoutError) Timeout() bool { return true }

// Temporary implements net.Error.
func (e QueryTimeoutError) Temporary() bool { return true }

func upstreamError(id string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Upstream: id, Err: err}
}
