package proxy

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"

	"github.com/roosniffer/roosniffer/internal/netutil"
	"github.com/roosniffer/roosniffer/internal/record"
)

// Tunneler implements the opaque TCP tunneler (C4): used for CONNECT
// targets that the watch matcher does not select. It hijacks the client
// connection, dials the upstream host:port directly, and splices bytes
// both ways without inspecting them.
type Tunneler struct {
	sink record.Sink
}

// NewTunneler creates an opaque CONNECT tunneler.
func NewTunneler(sink record.Sink) *Tunneler {
	return &Tunneler{sink: sink}
}

// Handle implements spec.md §4.4.
func (t *Tunneler) Handle(w http.ResponseWriter, r *http.Request) {
	target := r.Host
	host, port := netutil.SplitHostPortDefault(target, "443")

	upstream, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		// The client has not yet been told 200 — but per spec.md §4.4, a
		// dial failure is still reported as a plain close, not an HTTP
		// error, to keep the CONNECT error contract identical regardless
		// of whether the failure happens before or after hijack. Only when
		// the connection cannot be hijacked is the classified error written.
		if hijacker, ok := w.(http.Hijacker); ok {
			if clientConn, _, hjErr := hijacker.Hijack(); hjErr == nil {
				clientConn.Close()
				return
			}
		}
		if proxyErr := classifyConnectError(err); proxyErr != nil {
			writeProxyError(w, proxyErr)
		}
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		writeProxyError(w, ErrInternalError)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		return
	}

	if _, err := clientBuf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		clientConn.Close()
		upstream.Close()
		return
	}
	if err := clientBuf.Flush(); err != nil {
		clientConn.Close()
		upstream.Close()
		return
	}

	t.sink.Emit(record.New(http.MethodConnect, host, ":"+port, false))

	clientReader, err := tunnelClientReader(clientConn, clientBuf.Reader)
	if err != nil {
		clientConn.Close()
		upstream.Close()
		return
	}

	splice(clientConn, upstream, clientReader)
}

// tunnelClientReader preserves any bytes net/http buffered while parsing
// the CONNECT request line/headers, so the tunnel stays byte-transparent.
func tunnelClientReader(clientConn net.Conn, buffered *bufio.Reader) (io.Reader, error) {
	if buffered == nil {
		return clientConn, nil
	}
	n := buffered.Buffered()
	if n == 0 {
		return clientConn, nil
	}
	prefetched := make([]byte, n)
	if _, err := io.ReadFull(buffered, prefetched); err != nil {
		return nil, err
	}
	return io.MultiReader(bytes.NewReader(prefetched), clientConn), nil
}

// splice runs a full-duplex byte copy between clientConn and upstream until
// either direction closes, then closes the other — the shared shape behind
// both the opaque tunneler (C4) and the MITM bridge (C6).
func splice(clientConn, upstream net.Conn, clientToUpstreamSrc io.Reader) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(upstream, clientToUpstreamSrc)
		closeWrite(upstream)
	}()
	io.Copy(clientConn, upstream)
	closeWrite(clientConn)
	<-done
	clientConn.Close()
	upstream.Close()
}

// closeWrite half-closes the write side when the connection supports it
// (TCP/TLS), so the peer observes EOF without losing any unread bytes on
// the other half.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
	}
}
