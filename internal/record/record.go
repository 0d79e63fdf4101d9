// Package record defines the observation unit shared by the interception
// pipeline (forward proxy, tunneler, MITM bridge, framing sniffer) and the
// observation sink. Keeping the type here — rather than inside the proxy or
// sniffer packages — avoids an import cycle between the two.
package record

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxPreviewBytes bounds bodyPreview/responsePreview, per the body-preview
// truncation contract.
const maxPreviewBytes = 500

// truncationSuffix is appended to a preview when the source was longer than
// maxPreviewBytes.
const truncationSuffix = "..."

// Request is the structured observation unit emitted for every proxied
// request and, for plain-forwarded and MITM-intercepted requests, updated
// with the response status once the upstream response has been observed
// (CONNECT records are never updated). ID is an internal correlation key — it is not one of the
// serialized JSON-lines keys.
type Request struct {
	ID          uuid.UUID         `json:"-"`
	Time        time.Time         `json:"timestamp"`
	Method      string            `json:"method"`
	Host        string            `json:"host"`
	Path        string            `json:"path"`
	Watched     bool              `json:"watched"`
	Headers     map[string]string `json:"headers,omitempty"`
	BodyPreview *string           `json:"bodyPreview,omitempty"`

	StatusCode      *int    `json:"statusCode,omitempty"`
	ResponsePreview *string `json:"responsePreview,omitempty"`
}

// New creates a Request observation at the moment the request is fully
// received, before any upstream response exists.
func New(method, host, path string, watched bool) *Request {
	return &Request{
		ID:      uuid.New(),
		Time:    time.Now(),
		Method:  method,
		Host:    host,
		Path:    path,
		Watched: watched,
	}
}

// WithHeaders attaches a lowercased header snapshot. Only called in verbose
// mode, per the spec's optional-headers contract.
func (r *Request) WithHeaders(h map[string]string) *Request {
	r.Headers = h
	return r
}

// SetBodyPreview truncates and UTF-8-validates body into the record's
// BodyPreview field. Only meaningful for POST/PUT/PATCH on watched records;
// callers are responsible for that gating.
func (r *Request) SetBodyPreview(body []byte) {
	preview := Preview(body)
	r.BodyPreview = &preview
}

// SetResponse attaches the response status and, for watched+verbose
// records, a body preview. May only be called once, after the record has
// already been observed as a request event — callers own that ordering.
func (r *Request) SetResponse(statusCode int, body []byte, includeBody bool) {
	r.StatusCode = &statusCode
	if includeBody && body != nil {
		preview := Preview(body)
		r.ResponsePreview = &preview
	}
}

// Clone returns an independent copy of r. The request/tunnel goroutines
// mutate a record in place (via SetResponse) after the request event has
// already been handed to the sink; anything that retains a record across
// goroutines — async Subscribers in particular — must clone it first so
// that later mutation on the original doesn't race with the retained copy.
func (r *Request) Clone() *Request {
	clone := *r
	if r.Headers != nil {
		clone.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			clone.Headers[k] = v
		}
	}
	return &clone
}

// Preview implements the body-preview truncation rule: UTF-8 decode, then
// truncate to maxPreviewBytes with a trailing "..." indicator; the literal
// "<binary>" if decoding fails.
func Preview(body []byte) string {
	if !utf8.Valid(body) {
		return "<binary>"
	}
	if len(body) <= maxPreviewBytes {
		return string(body)
	}
	return string(body[:maxPreviewBytes]) + truncationSuffix
}

// Subscriber receives Request observations for in-process fan-out (e.g. a
// structured secondary store, or a future dashboard). Notify must never
// block; slow subscribers drop their oldest buffered record instead.
type Subscriber interface {
	Notify(*Request)
}

// Sink is the C8 observation sink contract: it accepts Request records and
// fans them out to the JSON-lines writer and any registered Subscribers.
type Sink interface {
	Emit(*Request)
}
