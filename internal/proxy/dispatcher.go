package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/roosniffer/roosniffer/internal/watch"
)

// ErrPortInUse is returned by Listen when the configured listen port is
// already bound — a fatal, startup-time condition per spec.md §4.1.
var ErrPortInUse = errors.New("proxy: listen port already in use")

// Dispatcher is the listener & dispatcher (C1): for every accepted
// connection's first request, CONNECT routes to the tunneler or MITM
// bridge depending on the watch matcher; every other method routes to the
// plain-HTTP forwarder. This is implemented as an http.Server handler
// rather than a hand-rolled accept-loop scanner, so CONNECT's hijack-based
// tunneling reuses net/http's request-line/header parsing for free.
type Dispatcher struct {
	forward  *Forward
	tunneler *Tunneler
	mitm     *MITMBridge
	watch    *watch.Runtime
}

// NewDispatcher wires the four interception-pipeline components together.
func NewDispatcher(forward *Forward, tunneler *Tunneler, mitm *MITMBridge, w *watch.Runtime) *Dispatcher {
	return &Dispatcher{forward: forward, tunneler: tunneler, mitm: mitm, watch: w}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		d.handleConnect(w, r)
		return
	}
	d.forward.ServeHTTP(w, r)
}

func (d *Dispatcher) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	if d.watch.Match(host) {
		d.mitm.Handle(w, r)
		return
	}
	d.tunneler.Handle(w, r)
}

// Listen binds listenAddr (e.g. ":8080"), mapping an address-in-use error
// to ErrPortInUse so callers can treat it as the documented fatal startup
// condition rather than a generic network error.
func Listen(listenAddr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrPortInUse, listenAddr)
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrPortInUse, listenAddr)
		}
		return nil, fmt.Errorf("proxy: listen %s: %w", listenAddr, err)
	}
	return ln, nil
}
