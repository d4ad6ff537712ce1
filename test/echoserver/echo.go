package main

import (
	"log"

	"github.com/smallnest/ringbuffer"
)

// echoConn is the part of *lib.Connection an echo session writes to.
type echoConn interface {
	Send(data []byte) error
	Close() error
}

// echoSession stages received bytes in a ring buffer and sends them back in MSS-sized writes.
// Bytes whose Send failed stay buffered and are retried on the next callback.
type echoSession struct {
	buf   *ringbuffer.RingBuffer
	chunk []byte
}

func newEchoSession(mss int) *echoSession {
	return &echoSession{
		buf:   ringbuffer.New(4 * mss),
		chunk: make([]byte, mss),
	}
}

func (e *echoSession) handle(conn echoConn, payload []byte) {
	if len(payload) == 0 {
		log.Println("Connection closed by client")
		if err := e.flush(conn); err != nil {
			log.Printf("%d bytes not echoed: %v", e.buf.Length(), err)
		}
		if err := conn.Close(); err != nil {
			log.Println("Close error:", err)
		}
		return
	}

	for len(payload) > 0 {
		n, _ := e.buf.Write(payload) // a partial write means the buffer is full
		payload = payload[n:]
		if err := e.flush(conn); err != nil {
			log.Printf("Write error, %d bytes held for retry: %v", e.buf.Length(), err)
			if len(payload) > 0 {
				log.Printf("Echo buffer full, %d bytes dropped", len(payload))
			}
			return
		}
	}
}

// flush sends the buffered bytes. A chunk leaves the buffer only after Send accepted it.
func (e *echoSession) flush(conn echoConn) error {
	for e.buf.Length() > 0 {
		n, err := e.buf.Peek(e.chunk)
		if err != nil {
			return err
		}
		if err := conn.Send(e.chunk[:n]); err != nil {
			return err
		}
		if _, err := e.buf.Read(e.chunk[:n]); err != nil {
			return err
		}
	}
	return nil
}
