package sniffer

import (
	"reflect"
	"testing"
)

func TestRequestSnifferSingleRequest(t *testing.T) {
	var got []ParsedRequest
	s := NewRequestSniffer(func(r ParsedRequest) { got = append(got, r) })

	s.Write([]byte("GET /widgets HTTP/1.1\r\nHost: api.example.test\r\nContent-Length: 0\r\n\r\n"))

	if len(got) != 1 {
		t.Fatalf("got %d requests, want 1", len(got))
	}
	if got[0].Method != "GET" || got[0].Target != "/widgets" {
		t.Errorf("unexpected request: %+v", got[0])
	}
	if got[0].Headers["host"] != "api.example.test" {
		t.Errorf("headers = %v, missing lowercased host", got[0].Headers)
	}
}

func TestRequestSnifferPipelining(t *testing.T) {
	var got []ParsedRequest
	s := NewRequestSniffer(func(r ParsedRequest) { got = append(got, r) })

	s.Write([]byte(
		"GET /a HTTP/1.1\r\nContent-Length: 0\r\n\r\n" +
			"GET /b HTTP/1.1\r\nContent-Length: 0\r\n\r\n",
	))

	if len(got) != 2 {
		t.Fatalf("got %d requests, want 2", len(got))
	}
	if got[0].Target != "/a" || got[1].Target != "/b" {
		t.Errorf("pipelined order wrong: %q then %q", got[0].Target, got[1].Target)
	}
}

func TestRequestSnifferSplitAcrossWrites(t *testing.T) {
	var got []ParsedRequest
	s := NewRequestSniffer(func(r ParsedRequest) { got = append(got, r) })

	s.Write([]byte("POST /submit HTTP/1.1\r\nContent-Leng"))
	if len(got) != 0 {
		t.Fatalf("got %d requests before headers complete, want 0", len(got))
	}
	s.Write([]byte("th: 5\r\n\r\nhel"))
	if len(got) != 0 {
		t.Fatalf("got %d requests before body complete, want 0", len(got))
	}
	s.Write([]byte("lo"))

	if len(got) != 1 {
		t.Fatalf("got %d requests, want 1", len(got))
	}
	if string(got[0].Body) != "hello" {
		t.Errorf("body = %q, want %q", got[0].Body, "hello")
	}
}

func TestRequestSnifferMalformedRequestLine(t *testing.T) {
	var got []ParsedRequest
	s := NewRequestSniffer(func(r ParsedRequest) { got = append(got, r) })

	s.Write([]byte("garbage\r\nContent-Length: 0\r\n\r\n"))

	if len(got) != 1 {
		t.Fatalf("got %d requests, want 1", len(got))
	}
	if got[0].Method != "UNKNOWN" || got[0].Target != "/" {
		t.Errorf("malformed request = %+v, want UNKNOWN /", got[0])
	}
}

func TestRequestSnifferDefaultContentLength(t *testing.T) {
	var got []ParsedRequest
	s := NewRequestSniffer(func(r ParsedRequest) { got = append(got, r) })

	s.Write([]byte("GET / HTTP/1.1\r\nHost: example.test\r\n\r\n"))

	if len(got) != 1 {
		t.Fatalf("got %d requests, want 1", len(got))
	}
	if len(got[0].Body) != 0 {
		t.Errorf("body = %q, want empty when Content-Length absent", got[0].Body)
	}
}

func TestRequestSnifferInvalidHeaderLineSkipped(t *testing.T) {
	var got []ParsedRequest
	s := NewRequestSniffer(func(r ParsedRequest) { got = append(got, r) })

	s.Write([]byte("GET / HTTP/1.1\r\nHost: example.test\r\nBad Header Name: x\r\n\r\n"))

	if len(got) != 1 {
		t.Fatalf("got %d requests, want 1", len(got))
	}
	if _, ok := got[0].Headers["bad header name"]; ok {
		t.Errorf("expected invalid header field name to be skipped, got %v", got[0].Headers)
	}
	if got[0].Headers["host"] != "example.test" {
		t.Errorf("valid header lost: %v", got[0].Headers)
	}
}

func TestResponseSnifferStatusLine(t *testing.T) {
	var codes []int
	var reasons []string
	var bodies [][]byte
	s := NewResponseSniffer(func(line ParsedStatusLine, body []byte) {
		codes = append(codes, line.Code)
		reasons = append(reasons, line.Reason)
		bodies = append(bodies, body)
	})

	s.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))

	if !reflect.DeepEqual(codes, []int{200}) {
		t.Fatalf("codes = %v, want [200]", codes)
	}
	if reasons[0] != "OK" {
		t.Errorf("reason = %q, want OK", reasons[0])
	}
	if string(bodies[0]) != "hi" {
		t.Errorf("body = %q, want hi", bodies[0])
	}
}

func TestResponseSnifferLargeBodyResyncsToNextStatusLine(t *testing.T) {
	var codes []int
	s := NewResponseSniffer(func(line ParsedStatusLine, _ []byte) {
		codes = append(codes, line.Code)
	})

	oversized := make([]byte, responsePreviewCap+100)
	for i := range oversized {
		oversized[i] = 'x'
	}

	s.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: "))
	s.Write([]byte("600\r\n\r\n"))
	s.Write(oversized)
	s.Write([]byte("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"))

	if !reflect.DeepEqual(codes, []int{200, 204}) {
		t.Fatalf("codes = %v, want [200 204]", codes)
	}
}

func TestResponseSnifferMalformedStatusLine(t *testing.T) {
	var got []ParsedStatusLine
	s := NewResponseSniffer(func(line ParsedStatusLine, _ []byte) { got = append(got, line) })

	s.Write([]byte("not a status line\r\n\r\n"))

	if len(got) != 1 {
		t.Fatalf("got %d responses, want 1", len(got))
	}
	if got[0].Code != 0 {
		t.Errorf("code = %d, want 0 for malformed status line", got[0].Code)
	}
}
