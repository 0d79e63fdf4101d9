// Package sniffer implements the HTTP framing sniffer (C7): it observes the
// plaintext byte stream flowing from a MITM-terminated client to the
// upstream (or, symmetrically, from upstream back to the client) and
// extracts request/response framing for logging, without ever gating the
// byte-for-byte forwarding that happens alongside it.
package sniffer

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const headerTerminator = "\r\n\r\n"

// ParsedRequest is one request-line + header block + (possibly empty) body
// recovered from the client-to-upstream byte stream.
type ParsedRequest struct {
	Method  string
	Target  string
	Headers map[string]string
	Body    []byte
}

// ParsedStatusLine is the first line of a response, recovered from the
// upstream-to-client byte stream.
type ParsedStatusLine struct {
	Code   int
	Reason string
}

// state is the per-request parse phase, mirroring spec.md §4.7's state
// machine: ReadingHeaders -> ReadingBody(remaining) -> emit -> ReadingHeaders.
type state int

const (
	stateReadingHeaders state = iota
	stateReadingBody
	// stateDiscardingBody is only used by ResponseSniffer, to resync the
	// buffer past a body too large to wait for in full (see responsePreviewCap).
	stateDiscardingBody
)

// RequestSniffer parses HTTP/1.1 requests (including pipelined ones) out of
// a growing buffer. It is not safe for concurrent use — one instance per
// tunnel, fed sequentially as bytes arrive.
type RequestSniffer struct {
	buf   bytes.Buffer
	state state

	pendingMethod  string
	pendingTarget  string
	pendingHeaders map[string]string
	pendingBodyLen int

	onRequest func(ParsedRequest)
}

// NewRequestSniffer creates a sniffer that invokes onRequest for every fully
// framed request it recovers.
func NewRequestSniffer(onRequest func(ParsedRequest)) *RequestSniffer {
	return &RequestSniffer{onRequest: onRequest}
}

// Write implements io.Writer so a RequestSniffer can be used as the side
// channel of an io.TeeReader/io.MultiWriter wrapping the real forwarding
// copy — bytes are always accepted and buffered regardless of parse state,
// so a slow or stuck parse never backs up the network copy it observes.
func (s *RequestSniffer) Write(p []byte) (int, error) {
	s.buf.Write(p)
	s.drain()
	return len(p), nil
}

func (s *RequestSniffer) drain() {
	for {
		switch s.state {
		case stateReadingHeaders:
			if !s.tryParseHeaders() {
				return
			}
		case stateReadingBody:
			if !s.tryParseBody() {
				return
			}
		}
	}
}

func (s *RequestSniffer) tryParseHeaders() bool {
	raw := s.buf.Bytes()
	idx := bytes.Index(raw, []byte(headerTerminator))
	if idx < 0 {
		return false
	}

	headerBlock := string(raw[:idx])
	lines := strings.Split(headerBlock, "\r\n")

	method, target := parseRequestLine(lines[0])
	headers := make(map[string]string, len(lines)-1)
	contentLength := 0
	for _, line := range lines[1:] {
		name, value, ok := parseHeaderLine(line)
		if !ok {
			continue
		}
		headers[name] = value
		if name == "content-length" {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n >= 0 {
				contentLength = n
			}
		}
	}

	s.buf.Next(idx + len(headerTerminator))
	s.pendingMethod = method
	s.pendingTarget = target
	s.pendingHeaders = headers
	s.pendingBodyLen = contentLength
	s.state = stateReadingBody
	return true
}

func (s *RequestSniffer) tryParseBody() bool {
	if s.buf.Len() < s.pendingBodyLen {
		return false
	}
	body := make([]byte, s.pendingBodyLen)
	copy(body, s.buf.Bytes()[:s.pendingBodyLen])
	s.buf.Next(s.pendingBodyLen)

	if s.onRequest != nil {
		s.onRequest(ParsedRequest{
			Method:  s.pendingMethod,
			Target:  s.pendingTarget,
			Headers: s.pendingHeaders,
			Body:    body,
		})
	}

	s.pendingMethod = ""
	s.pendingTarget = ""
	s.pendingHeaders = nil
	s.pendingBodyLen = 0
	s.state = stateReadingHeaders
	return true
}

// parseRequestLine parses "METHOD SP TARGET SP VERSION". A malformed
// request line (fewer than 3 tokens) is logged as UNKNOWN / "/" rather than
// dropped, per spec.md §4.7.
func parseRequestLine(line string) (method, target string) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "UNKNOWN", "/"
	}
	return strings.ToUpper(fields[0]), fields[1]
}

// parseHeaderLine parses "name: value", lowercasing and trimming the name.
// Header lines with an invalid field name or value (per RFC 7230, as judged
// by httpguts) are skipped from the parsed map — they never block framing
// or forwarding, only the logged header snapshot.
func parseHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	name = strings.ToLower(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return "", "", false
	}
	return name, value, true
}
