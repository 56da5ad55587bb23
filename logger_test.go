package dnsrelay

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseVerbosity(t *testing.T) {
	for i, name := range []string{"off", "error", "warn", "info", "debug", "trace"} {
		v, err := ParseVerbosity(name)
		require.NoError(t, err)
		require.Equal(t, Verbosity(i), v)
		require.Equal(t, name, v.String())
	}
	v, err := ParseVerbosity("DEBUG")
	require.NoError(t, err)
	require.Equal(t, VerbosityDebug, v)

	_, err = ParseVerbosity("loud")
	require.Error(t, err)
	require.False(t, Verbosity(-1).Valid())
	require.False(t, Verbosity(6).Valid())
}

func TestVerbosityFlag(t *testing.T) {
	var v Verbosity
	require.NoError(t, v.Set("warn"))
	require.Equal(t, VerbosityWarn, v)
	require.Error(t, v.Set("none"))
	require.Equal(t, VerbosityWarn, v)
}

func TestSetVerbosity(t *testing.T) {
	out, level := Log.Out, Log.Level
	defer func() {
		Log.SetOutput(out)
		Log.SetLevel(level)
	}()

	SetVerbosity(VerbosityOff)
	require.Equal(t, io.Discard, Log.Out)

	SetVerbosity(VerbosityDebug)
	require.Equal(t, logrus.DebugLevel, Log.Level)
	require.Equal(t, os.Stderr, Log.Out)

	SetVerbosity(VerbosityError)
	require.Equal(t, logrus.ErrorLevel, Log.Level)
}
