/*
Package dnsrelay implements a local DNS relay. It receives plain DNS queries over
UDP and forwards them unchanged to encrypted upstream resolvers, returning the
first successful response to the client.

Request sources

A request source wraps one bound UDP socket and produces requests one at a time
through Next. Receive errors affect only a single request, the source keeps
producing requests until it is closed or its context is cancelled.

Upstreams

Upstreams carry a raw DNS message to a remote resolver and return the raw
response. Supported are DNS-over-HTTPS (HTTP/2 or HTTP/3), DNS-over-TLS,
DNS-over-DTLS as well as plain UDP and TCP. Upstreams reuse connections and
enforce their own timeouts.

Dispatchers

A dispatcher serves one bind address. Each request is sent to the upstreams in
the configured order until one of them succeeds. If all fail, the request is
dropped and the client retries on its own. Requests are handled one at a time
per dispatcher. Shutdown is only observed between requests, a request that is
being forwarded is always completed.

Orchestrator

The orchestrator starts one dispatcher per bind address and waits for all of
them. A failing dispatcher doesn't affect the others. Only one relay instance
can be active per orchestrator, Stop can be called any number of times.
*/
package dnsrelay
