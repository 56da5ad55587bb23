package dnsrelay

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpstreamError(t *testing.T) {
	err := upstreamError("u1", io.EOF)
	var uErr *UpstreamError
	require.ErrorAs(t, err, &uErr)
	require.Equal(t, "u1", uErr.Upstream)
	require.ErrorIs(t, err, io.EOF)

	// Not wrapped twice
	require.Same(t, err, upstreamError("u2", err))
	require.NoError(t, upstreamError("u1", nil))
}

func TestQueryTimeoutError(t *testing.T) {
	err := upstreamError("u1", QueryTimeoutError{After: time.Second})
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	require.True(t, netErr.Timeout())
	require.Contains(t, err.Error(), "1s")

	var tErr QueryTimeoutError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, time.Second, tErr.After)
}

func TestReceiveError(t *testing.T) {
	err := error(&ReceiveError{Addr: "127.0.0.1:53", Err: io.ErrShortBuffer})
	require.ErrorIs(t, err, io.ErrShortBuffer)
	require.Contains(t, err.Error(), "127.0.0.1:53")
}
