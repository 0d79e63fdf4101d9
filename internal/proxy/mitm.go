package proxy

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/roosniffer/roosniffer/internal/ca"
	"github.com/roosniffer/roosniffer/internal/netutil"
	"github.com/roosniffer/roosniffer/internal/record"
	"github.com/roosniffer/roosniffer/internal/sniffer"
)

// MITMBridge implements the MITM TLS bridge (C6): it terminates the
// client's TLS handshake with a leaf certificate minted for the target
// host, opens a real TLS connection to that host, and splices the
// decrypted streams through a sniffer sidecar (C7) observing the
// client-to-upstream direction.
type MITMBridge struct {
	ca      *ca.CA
	sink    record.Sink
	verbose bool
}

// NewMITMBridge creates a MITM bridge.
func NewMITMBridge(authority *ca.CA, sink record.Sink, verbose bool) *MITMBridge {
	return &MITMBridge{ca: authority, sink: sink, verbose: verbose}
}

// Handle implements spec.md §4.6.
func (m *MITMBridge) Handle(w http.ResponseWriter, r *http.Request) {
	target := r.Host
	host, port := netutil.SplitHostPortDefault(target, "443")

	leaf, err := m.ca.LeafFor(host)
	if err != nil {
		writeProxyError(w, ErrInternalError)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		writeProxyError(w, ErrInternalError)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		return
	}

	if _, err := clientBuf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		clientConn.Close()
		return
	}
	if err := clientBuf.Flush(); err != nil {
		clientConn.Close()
		return
	}

	m.sink.Emit(record.New(http.MethodConnect, host, ":"+port, true))

	clientReader, err := tunnelClientReader(clientConn, clientBuf.Reader)
	if err != nil {
		clientConn.Close()
		return
	}

	tlsServerConn := tls.Server(&prefixedConn{Conn: clientConn, r: clientReader}, &tls.Config{
		Certificates: []tls.Certificate{leaf.TLS},
	})
	if err := tlsServerConn.Handshake(); err != nil {
		tlsServerConn.Close()
		return
	}

	// Certificate validation against the real host is disabled: this is an
	// interception tool the operator opted into by installing the private
	// CA, and must tolerate real endpoints with unusual chains.
	upstreamConn, err := tls.Dial("tcp", net.JoinHostPort(host, port), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, //nolint:gosec
	})
	if err != nil {
		tlsServerConn.Close()
		return
	}

	m.pipe(tlsServerConn, upstreamConn, host)
}

// prefixedConn is a net.Conn whose Read is satisfied by r first (any bytes
// net/http buffered while parsing the CONNECT request), falling through to
// the wrapped Conn's own Read once r is exhausted.
type prefixedConn struct {
	net.Conn
	r io.Reader
}

func (c *prefixedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// pendingResponses is a small FIFO correlating framed requests observed by
// the request-side sniffer with the next status line observed by the
// response-side sniffer — HTTP/1.1 responses arrive in request order, even
// when pipelined.
type pendingResponses struct {
	mu    sync.Mutex
	queue []*record.Request
}

func (p *pendingResponses) push(r *record.Request) {
	p.mu.Lock()
	p.queue = append(p.queue, r)
	p.mu.Unlock()
}

func (p *pendingResponses) pop() *record.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	r := p.queue[0]
	p.queue = p.queue[1:]
	return r
}

// pipe splices the TLS-terminated client and upstream connections, with
// the request sniffer observing client->upstream and the response sniffer
// observing upstream->client, per spec.md §4.6/§4.7.
func (m *MITMBridge) pipe(clientConn, upstreamConn net.Conn, hostname string) {
	pending := &pendingResponses{}

	reqSniffer := sniffer.NewRequestSniffer(func(p sniffer.ParsedRequest) {
		rec := record.New(p.Method, hostname, p.Target, true)
		if m.verbose {
			rec = rec.WithHeaders(p.Headers)
		}
		if isBodyCapturedMethod(p.Method) {
			rec.SetBodyPreview(p.Body)
		}
		m.sink.Emit(rec)
		pending.push(rec)
	})

	respSniffer := sniffer.NewResponseSniffer(func(line sniffer.ParsedStatusLine, body []byte) {
		rec := pending.pop()
		if rec == nil {
			return
		}
		rec.SetResponse(line.Code, body, m.verbose)
		m.sink.Emit(rec)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(io.MultiWriter(upstreamConn, reqSniffer), clientConn)
		closeWrite(upstreamConn)
	}()
	io.Copy(io.MultiWriter(clientConn, respSniffer), upstreamConn)
	closeWrite(clientConn)
	<-done
	clientConn.Close()
	upstreamConn.Close()
}
