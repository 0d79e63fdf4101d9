package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roosniffer/roosniffer/internal/watch"
)

func TestDispatcherRoutesNonConnectToForward(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	sink := &fakeSink{}
	w := watch.NewRuntime(nil)
	d := NewDispatcher(NewForward(w, sink, false), NewTunneler(sink), nil, w)

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/foo", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestDispatcherConnectUnwatchedUsesTunneler(t *testing.T) {
	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen target: %v", err)
	}
	defer targetLn.Close()

	targetDone := make(chan struct{})
	go func() {
		defer close(targetDone)
		conn, err := targetLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) // echo
	}()

	sink := &fakeSink{}
	w := watch.NewRuntime(nil) // nothing watched
	d := NewDispatcher(NewForward(w, sink, false), NewTunneler(sink), nil, w)

	proxySrv := httptest.NewServer(d)
	defer proxySrv.Close()

	proxyAddr := strings.TrimPrefix(proxySrv.URL, "http://")
	clientConn, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer clientConn.Close()

	targetAddr := targetLn.Addr().String()
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", targetAddr, targetAddr)
	if _, err := clientConn.Write([]byte(req)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "200 Connection Established") {
		t.Fatalf("unexpected status line: %q", statusLine)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	const payload = "ping-through-tunnel"
	if _, err := clientConn.Write([]byte(payload)); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	echo := make([]byte, len(payload))
	if _, err := io.ReadFull(reader, echo); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echo) != payload {
		t.Fatalf("echo = %q, want %q", echo, payload)
	}
	clientConn.Close()
	<-targetDone

	records := sink.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected exactly one CONNECT record, got %d", len(records))
	}
	if records[0].Method != http.MethodConnect || records[0].Watched {
		t.Fatalf("unexpected record: %#v", records[0])
	}
}

func TestListenErrPortInUse(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	defer ln.Close()

	_, err = Listen(ln.Addr().String())
	if err == nil {
		t.Fatal("expected second Listen on same address to fail")
	}
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
}
