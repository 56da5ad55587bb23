package dnsrelay

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Defaults used by the embedding API when values are missing or invalid.
var (
	DefaultBindV4   = "127.0.0.1:53"
	DefaultBindV6   = "[::1]:53"
	DefaultUpstream = "https://1.1.1.1/dns-query"
)

// Status codes returned by StartEmbedded and StopEmbedded.
const (
	StatusOK = 0
	// The relay could not be built from the given values.
	StatusBuildFailed = -1
	// The relay could not run, for example because it was already started.
	StatusRunFailed = -2
)

// The relay instance controlled through the embedding API.
var embedded = NewOrchestrator(DispatcherOptions{})

// StartEmbedded runs the relay for a host process and blocks until
// StopEmbedded is called. Nil or invalid arguments are replaced by the
// defaults, an invalid verbosity by info.
func StartEmbedded(bind1, bind2, upstreamURL *string, verbosity Verbosity) int {
	if !verbosity.Valid() {
		verbosity = VerbosityInfo
	}
	SetVerbosity(verbosity)

	binds := []string{
		bindOrDefault(bind1, DefaultBindV4),
		bindOrDefault(bind2, DefaultBindV6),
	}
	upstream := DefaultUpstream
	if upstreamURL != nil {
		if _, err := ParseEndpoint("upstream", *upstreamURL); err == nil {
			upstream = *upstreamURL
		} else {
			Log.WithError(err).Warn("invalid upstream, using default")
		}
	}
	endpoint, err := ParseEndpoint("upstream", upstream)
	if err != nil {
		Log.WithError(err).Error("failed to parse upstream")
		return StatusBuildFailed
	}
	upstreams, err := NewUpstreams(endpoint)
	if err != nil {
		Log.WithError(err).Error("failed to build upstream")
		return StatusBuildFailed
	}

	Log.WithFields(logrus.Fields{"binds": binds, "upstream": endpoint.Address}).Info("starting relay")
	if err := embedded.Run(context.Background(), binds, upstreams); err != nil {
		Log.WithError(err).Error("relay failed")
		return StatusRunFailed
	}
	return StatusOK
}

// StopEmbedded stops a relay started with StartEmbedded. It always returns
// StatusOK, also when nothing is running.
func StopEmbedded() int {
	embedded.Stop()
	return StatusOK
}

func bindOrDefault(addr *string, def string) string {
	if addr == nil {
		return def
	}
	if err := validBindAddress(*addr); err != nil {
		Log.WithError(err).WithField("addr", *addr).Warn("invalid bind address, using default")
		return def
	}
	return *addr
}
