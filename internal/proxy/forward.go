package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/roosniffer/roosniffer/internal/netutil"
	"github.com/roosniffer/roosniffer/internal/record"
	"github.com/roosniffer/roosniffer/internal/watch"
)

// Forward implements the plain-HTTP forwarder (C2): non-CONNECT requests
// are resolved to an absolute URL, hop-by-hop headers are stripped, the
// full body is buffered, and the request is replayed to the upstream host
// with the response streamed back verbatim.
type Forward struct {
	watch   *watch.Runtime
	sink    record.Sink
	verbose bool
	client  *http.Client
}

// NewForward creates a plain-HTTP forwarder.
func NewForward(w *watch.Runtime, sink record.Sink, verbose bool) *Forward {
	return &Forward{
		watch:   w,
		sink:    sink,
		verbose: verbose,
		client: &http.Client{
			// Forwarding must see redirects and errors as the client would,
			// not follow them on the client's behalf.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// hopByHopHeaders must never be forwarded to the next hop, per standard
// HTTP/1.1 semantics — a strict superset of spec.md's proxy-connection
// stripping requirement, matching the teacher's stripHopByHopHeaders.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHopHeaders(header http.Header) {
	if header == nil {
		return
	}
	for _, connHeaders := range header.Values("Connection") {
		for _, h := range strings.Split(connHeaders, ",") {
			if h = strings.TrimSpace(h); h != "" {
				header.Del(h)
			}
		}
	}
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
}

// resolveTargetURL implements spec.md §4.2's target resolution: absolute-
// form request-target wins; otherwise compose from the Host header.
func resolveTargetURL(r *http.Request) (*url.URL, error) {
	if r.URL.IsAbs() {
		return r.URL, nil
	}
	if r.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return url.Parse("http://" + r.Host + r.URL.RequestURI())
}

func (f *Forward) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := resolveTargetURL(r)
	if err != nil {
		writeProxyError(w, ErrURLParseError)
		return
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		writeProxyError(w, ErrInvalidProtocol)
		return
	}
	host := netutil.HostOnly(target.Host)
	if host == "" {
		writeProxyError(w, ErrInvalidHost)
		return
	}

	// The entire request body is buffered before forwarding, per spec.md
	// §4.2/§5: the sniffer/record model needs the full body before the
	// request event is emitted, and chunked reassembly is out of scope.
	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			writeProxyError(w, ErrURLParseError)
			return
		}
	}

	watched := f.watch.Match(host)
	rec := record.New(strings.ToUpper(r.Method), host, target.RequestURI(), watched)
	if f.verbose {
		rec = rec.WithHeaders(snapshotHeaders(r.Header))
	}
	if watched && isBodyCapturedMethod(r.Method) {
		rec.SetBodyPreview(bodyBytes)
	}
	f.sink.Emit(rec)

	outReq, err := http.NewRequest(r.Method, target.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		writeProxyError(w, ErrURLParseError)
		return
	}
	outReq.Header = r.Header.Clone()
	stripHopByHopHeaders(outReq.Header)

	resp, err := f.client.Do(outReq)
	if err != nil {
		proxyErr := classifyUpstreamError(err)
		if proxyErr == nil {
			return // context.Canceled: client went away, nothing to report
		}
		writeProxyError(w, proxyErr)
		return
	}
	defer resp.Body.Close()

	respHeaders := resp.Header.Clone()
	stripHopByHopHeaders(respHeaders)
	for k, vv := range respHeaders {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if f.verbose && watched {
		f.streamWithResponsePreview(w, resp, rec)
		return
	}
	io.Copy(w, resp.Body)
	rec.SetResponse(resp.StatusCode, nil, false)
	f.sink.Emit(rec)
}

// streamWithResponsePreview tees the first bytes of the response body into
// a preview buffer while streaming the rest verbatim to the client.
func (f *Forward) streamWithResponsePreview(w http.ResponseWriter, resp *http.Response, rec *record.Request) {
	const previewCap = 500
	preview := make([]byte, 0, previewCap)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if len(preview) < previewCap {
				take := previewCap - len(preview)
				if take > n {
					take = n
				}
				preview = append(preview, buf[:take]...)
			}
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
		}
		if readErr != nil {
			break
		}
	}
	rec.SetResponse(resp.StatusCode, preview, true)
	f.sink.Emit(rec)
}

func isBodyCapturedMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func snapshotHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if len(vv) == 0 {
			continue
		}
		out[strings.ToLower(k)] = vv[0]
	}
	return out
}
