package dnsrelay

import (
	"expvar"
	"fmt"
)

// Get an *expvar.Int with the given path.
func getVarInt(base string, id string, name string) *expvar.Int {
	fullname := fmt.Sprintf("dnsrelay.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// Get an *expvar.Map with the given path.
func getVarMap(base string, id string, name string) *expvar.Map {
	fullname := fmt.Sprintf("dnsrelay.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}

// ListenerMetrics are the counters of one dispatcher.
type ListenerMetrics struct {
	// Count of datagrams received.
	query *expvar.Int
	// Count of replies written.
	response *expvar.Int
	// Count of requests dropped, by reason.
	drop *expvar.Map
	// Count of errors, by type.
	err *expvar.Map
}

func NewListenerMetrics(base string, id string) *ListenerMetrics {
	return &ListenerMetrics{
		query:    getVarInt(base, id, "query"),
		response: getVarInt(base, id, "response"),
		drop:     getVarMap(base, id, "drop"),
		err:      getVarMap(base, id, "error"),
	}
}

// UpstreamMetrics are the counters of one upstream client.
type UpstreamMetrics struct {
	query    *expvar.Int
	response *expvar.Int
	err      *expvar.Map
}

func NewUpstreamMetrics(id string) *UpstreamMetrics {
	return &UpstreamMetrics{
		query:    getVarInt("upstream", id, "query"),
		response: getVarInt("upstream", id, "response"),
		err:      getVarMap("upstream", id, "error"),
	}
}
