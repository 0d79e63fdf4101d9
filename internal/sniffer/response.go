package sniffer

import (
	"bytes"
	"strconv"
	"strings"
)

// ResponseSniffer recovers status lines (and a best-effort preview of the
// body that follows) from the upstream-to-client byte stream. It is
// deliberately simpler than RequestSniffer: spec.md §4.7 treats response
// framing as best-effort logging only, so a status line found mid-body (a
// body that happens to contain "\r\n\r\n") or a miscounted Content-Length
// only costs a degraded log line, never a forwarding error. After each
// header block it consumes exactly Content-Length body bytes (previewing up
// to responsePreviewCap, discarding the rest), so the next response's
// status line is found even behind an oversized body. Responses without
// Content-Length are treated as having no body.
type ResponseSniffer struct {
	buf   bytes.Buffer
	state state

	pendingCode      int
	pendingReason    string
	pendingLen       int
	discardRemaining int

	onResponse func(ParsedStatusLine, []byte)
}

// NewResponseSniffer creates a sniffer that invokes onResponse with the
// status line and (possibly truncated or empty) body preview bytes for
// every response header block it recovers.
func NewResponseSniffer(onResponse func(ParsedStatusLine, []byte)) *ResponseSniffer {
	return &ResponseSniffer{onResponse: onResponse}
}

// Write implements io.Writer, matching RequestSniffer's tee-side contract.
func (s *ResponseSniffer) Write(p []byte) (int, error) {
	s.buf.Write(p)
	s.drain()
	return len(p), nil
}

func (s *ResponseSniffer) drain() {
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
		case stateDiscardingBody:
			if !s.tryDiscardBody() {
				return
			}
		}
	}
}

func (s *ResponseSniffer) tryParseHeaders() bool {
	raw := s.buf.Bytes()
	idx := bytes.Index(raw, []byte(headerTerminator))
	if idx < 0 {
		return false
	}

	headerBlock := string(raw[:idx])
	lines := strings.Split(headerBlock, "\r\n")

	code, reason := parseStatusLine(lines[0])
	contentLength := 0
	for _, line := range lines[1:] {
		name, value, ok := parseHeaderLine(line)
		if !ok {
			continue
		}
		if name == "content-length" {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n >= 0 {
				contentLength = n
			}
		}
	}

	s.buf.Next(idx + len(headerTerminator))
	s.pendingCode = code
	s.pendingReason = reason
	s.pendingLen = contentLength
	s.state = stateReadingBody
	return true
}

// responsePreviewCap bounds how many body bytes we wait for before giving
// up and logging whatever arrived — a multi-megabyte Content-Length must
// never stall the status-line log event.
const responsePreviewCap = 500

func (s *ResponseSniffer) tryParseBody() bool {
	take := s.pendingLen
	if take > responsePreviewCap {
		take = responsePreviewCap
	}
	if s.buf.Len() < take {
		return false
	}

	preview := make([]byte, take)
	copy(preview, s.buf.Bytes()[:take])
	s.buf.Next(take)

	if s.onResponse != nil {
		s.onResponse(ParsedStatusLine{Code: s.pendingCode, Reason: s.pendingReason}, preview)
	}

	remaining := s.pendingLen - take
	s.pendingCode = 0
	s.pendingReason = ""
	s.pendingLen = 0
	if remaining > 0 {
		s.discardRemaining = remaining
		s.state = stateDiscardingBody
		return true
	}
	s.state = stateReadingHeaders
	return true
}

// tryDiscardBody resyncs the buffer to the next response's header block by
// dropping whatever bytes of the previous (too-large-to-preview) body
// remain, without holding them in memory.
func (s *ResponseSniffer) tryDiscardBody() bool {
	if s.discardRemaining <= 0 {
		s.state = stateReadingHeaders
		return true
	}
	avail := s.buf.Len()
	if avail == 0 {
		return false
	}
	drop := avail
	if drop > s.discardRemaining {
		drop = s.discardRemaining
	}
	s.buf.Next(drop)
	s.discardRemaining -= drop
	if s.discardRemaining == 0 {
		s.state = stateReadingHeaders
		return true
	}
	return false
}

// parseStatusLine parses "HTTP/1.1 SP CODE SP REASON". A malformed status
// line yields code 0 and an empty reason rather than an error.
func parseStatusLine(line string) (code int, reason string) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return 0, ""
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, ""
	}
	if len(fields) == 3 {
		reason = fields[2]
	}
	return n, reason
}
