// Command libdnsrelay builds the relay as a C shared library for embedding in
// host applications:
//
//	go build -buildmode=c-shared -o libdnsrelay.so ./cmd/libdnsrelay
package main

import "C"

import rdns "github.com/folbricht/dnsrelay"

// dnsrelay_start runs the relay until dnsrelay_stop is called. NULL arguments
// select the defaults. Returns 0 on success, -1 if the relay could not be
// built and -2 if it could not run.
//
//export dnsrelay_start
func dnsrelay_start(bind1, bind2, upstream *C.char, verbosity C.int) C.int {
	return C.int(rdns.StartEmbedded(goString(bind1), goString(bind2), goString(upstream), rdns.Verbosity(verbosity)))
}

// dnsrelay_stop stops a running relay. Always returns 0.
//
//export dnsrelay_stop
func dnsrelay_stop() C.int {
	return C.int(rdns.StopEmbedded())
}

// Copies a C string into Go memory, NULL maps to nil.
func goString(s *C.char) *string {
	if s == nil {
		return nil
	}
	v := C.GoString(s)
	return &v
}

func main() {}
