package mcp

import (
	"bytes"
	"testing"
	"time"
)

func TestStdioOversizedLineReleasesClose(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{Name: "big", Command: "cat"}, nil)
	tr.connected.Store(true)

	// One line over the cap and no trailing newline: the scanner fails
	// with ErrTooLong and the read loop tears the connection down.
	oversized := bytes.Repeat([]byte("a"), maxLineBytes+1)
	tr.wg.Add(1)
	go tr.readLoop(bytes.NewReader(oversized))

	done := make(chan struct{})
	go func() {
		tr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked waiting for the read loop")
	}
	if tr.Connected() {
		t.Error("transport still reports connected")
	}
}

func TestStdioCloseIsIdempotent(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{Name: "x", Command: "cat"}, nil)
	tr.connected.Store(true)

	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if tr.Connected() {
		t.Error("transport still reports connected")
	}
}
