package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/Clouded-Sabre/tcpcore/lib"
)

type recordingConn struct {
	writes   [][]byte
	closed   int
	err      error
	failures int // Send calls that fail before it starts accepting
}

func (c *recordingConn) Send(data []byte) error {
	if c.err != nil {
		return c.err
	}
	if c.failures > 0 {
		c.failures--
		return errors.New("send failed")
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) Close() error {
	c.closed++
	return nil
}

func TestEchoSessionEchoesInChunks(t *testing.T) {
	conn := &recordingConn{}
	session := newEchoSession(4)

	payload := []byte(strings.Repeat("abcdefgh", 5)) // larger than the ring buffer
	session.handle(conn, payload)

	var echoed []byte
	for _, w := range conn.writes {
		if len(w) > 4 {
			t.Errorf("write of %d bytes exceeds MSS", len(w))
		}
		echoed = append(echoed, w...)
	}
	if !bytes.Equal(echoed, payload) {
		t.Errorf("echoed %q, want %q", echoed, payload)
	}
}

func TestEchoSessionClosesOnEndOfStream(t *testing.T) {
	conn := &recordingConn{}
	newEchoSession(4).handle(conn, nil)
	if conn.closed != 1 || len(conn.writes) != 0 {
		t.Errorf("closed %d writes %d, want 1 and 0", conn.closed, len(conn.writes))
	}
}

func TestEchoSessionStopsOnSendError(t *testing.T) {
	conn := &recordingConn{err: lib.ErrConnectionClosing}
	session := newEchoSession(4)
	session.handle(conn, []byte("data"))
	if len(conn.writes) != 0 {
		t.Errorf("writes = %q after send error", conn.writes)
	}
	if session.buf.Length() != 4 {
		t.Errorf("buffered %d bytes, want 4", session.buf.Length())
	}
}

func TestEchoSessionRetriesHeldBytes(t *testing.T) {
	conn := &recordingConn{failures: 1}
	session := newEchoSession(4)

	session.handle(conn, []byte("hello"))
	if len(conn.writes) != 0 || session.buf.Length() != 5 {
		t.Fatalf("writes %q buffered %d after failed send", conn.writes, session.buf.Length())
	}

	session.handle(conn, []byte("world"))
	var echoed []byte
	for _, w := range conn.writes {
		echoed = append(echoed, w...)
	}
	if string(echoed) != "helloworld" {
		t.Errorf("echoed %q, want %q", echoed, "helloworld")
	}
	if session.buf.Length() != 0 {
		t.Errorf("%d bytes left in the buffer", session.buf.Length())
	}
}

func TestEchoSessionFlushesBeforeClose(t *testing.T) {
	conn := &recordingConn{failures: 1}
	session := newEchoSession(4)
	session.handle(conn, []byte("bye"))
	session.handle(conn, nil)
	if len(conn.writes) != 1 || string(conn.writes[0]) != "bye" || conn.closed != 1 {
		t.Errorf("writes %q closed %d, want [bye] and 1", conn.writes, conn.closed)
	}
}
