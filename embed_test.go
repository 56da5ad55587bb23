package dnsrelay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestStartStopEmbedded(t *testing.T) {
	// Nothing running
	require.Equal(t, StatusOK, StopEmbedded())

	done := make(chan int, 1)
	go func() {
		done <- StartEmbedded(strPtr("127.0.0.1:0"), strPtr("127.0.0.1:0"), strPtr("not a url"), Verbosity(42))
	}()

	// Stop can be called before the relay is up, keep trying until it returns
	var code int
	require.Eventually(t, func() bool {
		StopEmbedded()
		select {
		case code = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, StatusOK, code)
}

func TestStartEmbeddedAlreadyRunning(t *testing.T) {
	inst, err := embedded.Start([]string{"127.0.0.1:0"}, nil)
	require.NoError(t, err)

	code := StartEmbedded(strPtr("127.0.0.1:0"), strPtr("127.0.0.1:0"), nil, VerbosityInfo)
	require.Equal(t, StatusRunFailed, code)

	require.Equal(t, StatusOK, StopEmbedded())
	require.NoError(t, inst.Wait())
}

func TestBindOrDefault(t *testing.T) {
	require.Equal(t, DefaultBindV4, bindOrDefault(nil, DefaultBindV4))
	require.Equal(t, DefaultBindV6, bindOrDefault(strPtr("localhost:53"), DefaultBindV6))
	require.Equal(t, DefaultBindV6, bindOrDefault(strPtr(""), DefaultBindV6))
	require.Equal(t, "127.0.0.2:5353", bindOrDefault(strPtr("127.0.0.2:5353"), DefaultBindV4))
}
