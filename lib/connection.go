package lib

import (
	"fmt"
	"net/netip"
	"sync"
)

// ConnectionID identifies a connection by its 4-tuple. Src is the remote peer, Dst the local side.
type ConnectionID struct {
	SrcAddr netip.Addr
	SrcPort uint16
	DstAddr netip.Addr
	DstPort uint16
}

func (id ConnectionID) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", id.SrcAddr, id.SrcPort, id.DstAddr, id.DstPort)
}

// ReceiveHandler is called with each in-order payload. An empty payload signals end of stream.
type ReceiveHandler func(conn *Connection, payload []byte)

// Connection is one accepted TCP connection.
type Connection struct {
	id       ConnectionID
	listener *Listener
	config   *ListenerConfig

	mu          sync.Mutex
	state       State
	initialSeq  uint32
	sendNext    uint32 // next sequence number to assign to outbound bytes
	sendUnacked uint32 // oldest unacknowledged sequence number
	recvNext    uint32 // next in-order sequence number expected from the peer
	finSeq      uint32 // sequence number occupied by the local FIN
	finReceived bool
	pending     *pendingQueue
	rtx         Timer  // nil when no retransmission is scheduled
	rtxGen      uint64 // bumped whenever rtx is replaced or cancelled
	onReceive   ReceiveHandler
}

// newConnection answers the peer's SYN with a SYN+ACK and returns the open connection.
func newConnection(l *Listener, id ConnectionID, peerSeq uint32) (*Connection, error) {
	isn, err := GenerateISN()
	if err != nil {
		return nil, err
	}

	c := &Connection{
		id:         id,
		listener:   l,
		config:     l.config,
		state:      StateOpen,
		initialSeq: isn,
		recvNext:   SeqIncrement(peerSeq),
		pending:    newPendingQueue(l.pool),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transmit(isn, c.recvNext, SYNFlag|ACKFlag, nil)
	c.sendNext = SeqIncrement(isn)
	c.sendUnacked = c.sendNext
	return c, nil
}

func (c *Connection) ID() ConnectionID {
	return c.id
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnReceive registers the handler for inbound data. Register it from the accept handler
// so no payload is missed.
func (c *Connection) OnReceive(handler ReceiveHandler) {
	c.mu.Lock()
	c.onReceive = handler
	c.mu.Unlock()
}

// Send splits data into MSS-sized segments, queues them for retransmission and transmits them.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateFinSent:
		return ErrConnectionClosing
	case StateClosed:
		return ErrConnectionClosed
	}
	if len(data) == 0 {
		return nil
	}

	if c.pending.len() == 0 {
		c.sendUnacked = c.sendNext
	}
	for len(data) > 0 {
		n := min(len(data), c.config.MSS)
		s := c.pending.push(c.sendNext, data[:n])
		c.sendNext = SeqIncrementBy(c.sendNext, uint32(n))
		c.transmit(s.seq, c.recvNext, ACKFlag, s.data)
		data = data[n:]
	}

	if c.rtx == nil {
		c.armTimer()
	}
	return nil
}

// Close sends a FIN. The connection leaves the listener once the peer acknowledges it.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateFinSent:
		return ErrConnectionClosing
	case StateClosed:
		return ErrConnectionClosed
	}

	c.finSeq = c.sendNext
	c.transmit(c.finSeq, c.recvNext, FINFlag|ACKFlag, nil)
	c.sendNext = SeqIncrement(c.sendNext)
	c.state = StateFinSent
	return nil
}

// handleSegment processes the ACK, payload and FIN of one inbound segment, in that order.
func (c *Connection) handleSegment(seg *Segment) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.config.Debug {
		c.config.Logger.Printf("%s: received %s", c.id, seg)
	}

	var closed bool
	if seg.HasFlag(ACKFlag) {
		closed = c.processAck(seg.AcknowledgmentNum)
	}

	var deliveries [][]byte
	ackNeeded := false
	if len(seg.Payload) > 0 {
		if c.processPayload(seg) {
			deliveries = append(deliveries, seg.Payload)
		}
		ackNeeded = true
	}
	if seg.HasFlag(FINFlag) {
		if c.processFin(seg) {
			deliveries = append(deliveries, []byte{})
		}
		ackNeeded = true
	}
	if ackNeeded {
		c.transmit(c.sendNext, c.recvNext, ACKFlag, nil)
	}
	handler := c.onReceive
	c.mu.Unlock()

	if closed {
		c.listener.removeConnection(c)
	}
	for _, payload := range deliveries {
		if handler == nil {
			c.config.Logger.Printf("%s: no receive handler, %d bytes discarded", c.id, len(payload))
			continue
		}
		handler(c, payload)
	}
}

// processAck applies a cumulative acknowledgment and reports whether it completed the close.
func (c *Connection) processAck(ack uint32) bool {
	if c.state == StateFinSent && ack == SeqIncrement(c.finSeq) {
		c.pending.clear()
		c.cancelTimer()
		c.sendUnacked = ack
		c.state = StateClosed
		return true
	}

	if c.pending.len() == 0 || !isGreater(ack, c.sendUnacked) {
		return false
	}
	if isGreater(ack, c.sendNext) {
		if c.config.Debug {
			c.config.Logger.Printf("%s: ignoring ACK %d beyond sendNext %d", c.id, ack, c.sendNext)
		}
		return false
	}

	c.pending.popAcked(ack)
	if front := c.pending.front(); front != nil {
		c.sendUnacked = front.seq
		c.cancelTimer()
		c.armTimer()
	} else {
		c.sendUnacked = ack
		c.cancelTimer()
	}
	if c.config.Debug {
		c.config.Logger.Printf("%s: ACK %d, pending segments %v", c.id, ack, c.pending.keys())
	}
	return false
}

// processPayload accepts the payload only if it is the next expected byte run.
func (c *Connection) processPayload(seg *Segment) bool {
	if seg.SequenceNumber != c.recvNext {
		if c.config.Debug {
			c.config.Logger.Printf("%s: out-of-order segment seq %d, expecting %d", c.id, seg.SequenceNumber, c.recvNext)
		}
		return false
	}
	c.recvNext = SeqIncrementBy(c.recvNext, uint32(len(seg.Payload)))
	return true
}

// processFin accepts the peer's FIN if it sits right after the in-order stream.
// A retransmitted FIN is only re-acknowledged.
func (c *Connection) processFin(seg *Segment) bool {
	finSeq := SeqIncrementBy(seg.SequenceNumber, uint32(len(seg.Payload)))
	switch {
	case !c.finReceived && finSeq == c.recvNext:
		c.recvNext = SeqIncrement(c.recvNext)
		c.finReceived = true
		return true
	case c.finReceived && SeqIncrement(finSeq) == c.recvNext:
		return false
	default:
		if c.config.Debug {
			c.config.Logger.Printf("%s: out-of-order FIN seq %d, expecting %d", c.id, finSeq, c.recvNext)
		}
		return false
	}
}

// armTimer schedules a retransmission of the oldest pending segment. c.mu must be held.
func (c *Connection) armTimer() {
	c.rtxGen++
	gen := c.rtxGen
	c.rtx = c.config.Clock.AfterFunc(c.config.RetransmitInterval, func() {
		c.retransmitTimeout(gen)
	})
}

// cancelTimer stops any scheduled retransmission. c.mu must be held.
func (c *Connection) cancelTimer() {
	if c.rtx == nil {
		return
	}
	c.rtx.Stop()
	c.rtx = nil
	c.rtxGen++
}

func (c *Connection) retransmitTimeout(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.rtxGen || c.rtx == nil {
		return // cancelled or replaced
	}
	c.rtx = nil
	front := c.pending.front()
	if front == nil || c.state == StateClosed {
		return
	}
	if c.config.Debug {
		c.config.Logger.Printf("%s: retransmitting seq %d (%d bytes)", c.id, front.seq, len(front.data))
	}
	c.transmit(front.seq, c.recvNext, ACKFlag, front.data)
	c.armTimer()
}

// shutdown stops the connection without notifying the peer.
func (c *Connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimer()
	c.pending.clear()
	c.state = StateClosed
}

// transmit encodes and sends one segment to the peer. Failures are logged and
// recovered by retransmission. c.mu must be held.
func (c *Connection) transmit(seq, ack uint32, flags uint8, payload []byte) {
	seg := &Segment{
		SourcePort:        c.id.DstPort,
		DestinationPort:   c.id.SrcPort,
		SequenceNumber:    seq,
		AcknowledgmentNum: ack,
		Flags:             flags,
		WindowSize:        c.config.WindowSize,
		Payload:           payload,
	}
	data, err := seg.Marshal(c.id.DstAddr, c.id.SrcAddr)
	if err != nil {
		c.config.Logger.Printf("%s: %v", c.id, err)
		return
	}
	if c.config.Debug {
		c.config.Logger.Printf("%s: sending %s", c.id, seg)
	}
	if err := c.listener.adapter.Send(data, c.id.SrcAddr); err != nil {
		c.config.Logger.Printf("%s: send failed: %v", c.id, err)
	}
}
