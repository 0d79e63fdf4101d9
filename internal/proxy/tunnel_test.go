package proxy

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"
)

func TestTunnelClientReaderPreservesBufferedBytes(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientReader := bufio.NewReaderSize(clientConn, 64)

	const firstChunk = "hello"
	const secondChunk = " world"

	go func() {
		serverConn.Write([]byte(firstChunk))
		time.Sleep(10 * time.Millisecond)
		serverConn.Write([]byte(secondChunk))
		serverConn.Close()
	}()

	if _, err := clientReader.Peek(len(firstChunk)); err != nil {
		t.Fatalf("peek buffered bytes: %v", err)
	}

	merged, err := tunnelClientReader(clientConn, clientReader)
	if err != nil {
		t.Fatalf("tunnelClientReader: %v", err)
	}

	got, err := io.ReadAll(merged)
	if err != nil {
		t.Fatalf("read merged stream: %v", err)
	}
	if string(got) != firstChunk+secondChunk {
		t.Fatalf("merged stream mismatch: got %q, want %q", got, firstChunk+secondChunk)
	}
}

func TestTunnelClientReaderNoBufferedBytesReturnsConn(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientReader := bufio.NewReader(clientConn)
	merged, err := tunnelClientReader(clientConn, clientReader)
	if err != nil {
		t.Fatalf("tunnelClientReader: %v", err)
	}
	if merged != clientConn {
		t.Fatal("expected raw client conn when no buffered bytes are present")
	}
}
