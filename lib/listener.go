package lib

import (
	"net/netip"
	"sync"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// AcceptHandler is called once for every connection created by a SYN.
type AcceptHandler func(conn *Connection)

// Listener accepts connections on one local port and demultiplexes inbound
// segments to them by 4-tuple.
type Listener struct {
	adapter Adapter
	port    uint16
	config  *ListenerConfig
	pool    *rp.RingPool

	mu          sync.Mutex
	connections map[ConnectionID]*Connection
	onAccept    AcceptHandler
	isClosed    bool
}

// NewListener creates a listener on port and registers it as the adapter's receiver.
func NewListener(adapter Adapter, port uint16, config *ListenerConfig) (*Listener, error) {
	if adapter == nil {
		return nil, ErrNoAdapter
	}
	config = config.withDefaults()

	l := &Listener{
		adapter:     adapter,
		port:        port,
		config:      config,
		pool:        newPayloadPool(config),
		connections: make(map[ConnectionID]*Connection),
	}
	adapter.RegisterReceiver(l.Receive)
	config.Logger.Printf("Listening on port %d (MSS %d, retransmit interval %s)", port, config.MSS, config.RetransmitInterval)
	return l, nil
}

// OnAccept registers the handler for new connections, replacing any previous one.
func (l *Listener) OnAccept(handler AcceptHandler) {
	l.mu.Lock()
	l.onAccept = handler
	l.mu.Unlock()
}

func (l *Listener) Port() uint16 {
	return l.port
}

// Len returns the number of connections in the table.
func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connections)
}

func (l *Listener) Lookup(id ConnectionID) (*Connection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.connections[id]
	return conn, ok
}

// Receive handles one inbound segment travelling from src to dst.
func (l *Listener) Receive(src, dst netip.Addr, segment []byte) {
	seg, err := Unmarshal(segment)
	if err != nil {
		l.config.Logger.Printf("Dropping undecodable segment from %s: %v", src, err)
		return
	}
	if seg.DestinationPort != l.port {
		return
	}
	if !l.adapter.IgnoreChecksum() && !VerifyChecksum(segment, src, dst) {
		l.config.Logger.Printf("Dropping segment with bad checksum: %s:%d -> %s:%d", src, seg.SourcePort, dst, seg.DestinationPort)
		return
	}

	id := ConnectionID{SrcAddr: src, SrcPort: seg.SourcePort, DstAddr: dst, DstPort: seg.DestinationPort}
	if seg.HasFlag(SYNFlag) {
		l.accept(id, seg)
		return
	}

	l.mu.Lock()
	conn, ok := l.connections[id]
	closed := l.isClosed
	l.mu.Unlock()
	if closed {
		return
	}
	if !ok {
		l.config.Logger.Printf("%s (segment for unknown connection)", id)
		return
	}
	conn.handleSegment(seg)
}

func (l *Listener) accept(id ConnectionID, seg *Segment) {
	l.mu.Lock()
	closed := l.isClosed
	l.mu.Unlock()
	if closed {
		return
	}

	conn, err := newConnection(l, id, seg.SequenceNumber)
	if err != nil {
		l.config.Logger.Printf("Error creating new connection for %s: %v", id, err)
		return
	}

	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		conn.shutdown()
		return
	}
	stale := l.connections[id]
	l.connections[id] = conn
	handler := l.onAccept
	l.mu.Unlock()

	if stale != nil {
		stale.shutdown()
		l.config.Logger.Printf("Connection %s replaced by a new SYN", id)
	}
	if l.config.Debug {
		l.config.Logger.Printf("New connection is ready: %s", id)
	}
	if handler != nil {
		handler(conn)
	}
}

// removeConnection drops conn from the table unless a newer connection already took its id.
func (l *Listener) removeConnection(conn *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.connections[conn.id]; !ok || current != conn {
		return
	}
	delete(l.connections, conn.id)
	l.config.Logger.Printf("Connection %s terminated and removed.", conn.id)
}

// Close stops every connection and empties the table. Segments arriving afterwards are dropped.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		return ErrListenerClosed
	}
	l.isClosed = true
	conns := make([]*Connection, 0, len(l.connections))
	for _, conn := range l.connections {
		conns = append(conns, conn)
	}
	clear(l.connections)
	l.mu.Unlock()

	for _, conn := range conns {
		conn.shutdown()
	}
	l.config.Logger.Printf("Listener on port %d closed, %d connections dropped.", l.port, len(conns))
	return nil
}
