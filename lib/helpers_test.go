package lib

import (
	"bytes"
	"log"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
)

var (
	localAddr = netip.MustParseAddr("10.0.0.1")
	peerAddr  = netip.MustParseAddr("1.2.3.4")
)

const (
	listenPort = 80
	peerPort   = 5000
	peerISN    = 7000
)

type sentSegment struct {
	dst netip.Addr
	raw []byte
}

func (s sentSegment) tcp() header.TCP {
	return header.TCP(s.raw)
}

type fakeAdapter struct {
	mu             sync.Mutex
	sent           []sentSegment
	receiver       ReceiverFunc
	ignoreChecksum bool
	sendErr        error
}

func (a *fakeAdapter) Send(segment []byte, dst netip.Addr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, sentSegment{dst: dst, raw: append([]byte(nil), segment...)})
	return nil
}

func (a *fakeAdapter) RegisterReceiver(fn ReceiverFunc) {
	a.receiver = fn
}

func (a *fakeAdapter) IgnoreChecksum() bool {
	return a.ignoreChecksum
}

// take returns and forgets everything sent so far.
func (a *fakeAdapter) take() []sentSegment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.sent
	a.sent = nil
	return out
}

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

// active counts timers that are neither stopped nor fired.
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every active timer once, as if the retransmit interval elapsed.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// fireStale runs the callbacks of stopped timers, as a timer racing its cancellation would.
func (c *fakeClock) fireStale() {
	c.mu.Lock()
	var stale []*fakeTimer
	for _, t := range c.timers {
		if t.stopped {
			stale = append(stale, t)
		}
	}
	c.mu.Unlock()
	for _, t := range stale {
		t.f()
	}
}

type testEnv struct {
	listener *Listener
	adapter  *fakeAdapter
	clock    *fakeClock
	logs     *bytes.Buffer
	accepted []*Connection
	received [][]byte
}

func newTestEnv(t *testing.T, mss int) *testEnv {
	t.Helper()
	env := &testEnv{
		adapter: &fakeAdapter{},
		clock:   &fakeClock{},
		logs:    &bytes.Buffer{},
	}
	config := DefaultListenerConfig()
	config.MSS = mss
	config.PayloadPoolSize = 64
	config.Clock = env.clock
	config.Logger = log.New(env.logs, "", 0)

	l, err := NewListener(env.adapter, listenPort, config)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	l.OnAccept(func(conn *Connection) {
		env.accepted = append(env.accepted, conn)
		conn.OnReceive(func(_ *Connection, payload []byte) {
			env.received = append(env.received, payload)
		})
	})
	env.listener = l
	return env
}

// deliver hands a peer segment to the listener through the adapter's receiver.
func (env *testEnv) deliver(seq, ack uint32, flags uint8, payload []byte) {
	env.adapter.receiver(peerAddr, localAddr, peerSegment(peerAddr, localAddr, peerPort, listenPort, seq, ack, flags, payload))
}

// open completes a handshake and returns the connection and its initial sequence number.
func (env *testEnv) open(t *testing.T) (*Connection, uint32) {
	t.Helper()
	env.deliver(peerISN, 0, header.TCPFlagSyn, nil)
	sent := env.adapter.take()
	if len(sent) != 1 {
		t.Fatalf("handshake sent %d segments, want 1", len(sent))
	}
	if len(env.accepted) == 0 {
		t.Fatalf("accept handler not called")
	}
	isn := sent[0].tcp().SequenceNumber()
	env.deliver(peerISN+1, isn+1, header.TCPFlagAck, nil)
	return env.accepted[len(env.accepted)-1], isn
}

// peerSegment builds a segment with netstack's encoder so the codec under test is cross-checked.
func peerSegment(src, dst netip.Addr, srcPort, dstPort uint16, seq, ack uint32, flags uint8, payload []byte) []byte {
	b := make([]byte, header.TCPMinimumSize+len(payload))
	hdr := header.TCP(b)
	hdr.Encode(&header.TCPFields{
		SrcPort:    srcPort,
		DstPort:    dstPort,
		SeqNum:     seq,
		AckNum:     ack,
		DataOffset: header.TCPMinimumSize,
		Flags:      flags,
		WindowSize: 65535,
	})
	copy(b[header.TCPMinimumSize:], payload)
	xsum := header.PseudoHeaderChecksum(header.TCPProtocolNumber, tcpip.Address(src.AsSlice()), tcpip.Address(dst.AsSlice()), uint16(len(b)))
	hdr.SetChecksum(^header.Checksum(b, xsum))
	return b
}

// checksumValid verifies an outbound segment with netstack's checksum routines.
func checksumValid(s sentSegment, src netip.Addr) bool {
	xsum := header.PseudoHeaderChecksum(header.TCPProtocolNumber, tcpip.Address(src.AsSlice()), tcpip.Address(s.dst.AsSlice()), uint16(len(s.raw)))
	return header.Checksum(s.raw, xsum) == 0xffff
}
