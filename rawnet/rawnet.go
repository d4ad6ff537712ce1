// Package rawnet carries TCP segments over a raw ip4:tcp socket.
package rawnet

import (
	"log"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"time"

	rs "github.com/Clouded-Sabre/rawsocket/lib"
	"github.com/pkg/errors"

	"github.com/Clouded-Sabre/tcpcore/config"
	"github.com/Clouded-Sabre/tcpcore/lib"
)

const (
	readTimeout     = 500 * time.Millisecond
	maxSegmentSize  = 65535
	lossCycleLength = 10
)

type Config struct {
	LocalIP              string // must be a concrete IPv4 address; it is the destination of every inbound segment
	IgnoreChecksum       bool
	PacketLostSimulation bool // drop one outbound segment in every ten
}

func NewConfig(appConfig *config.Config) *Config {
	return &Config{
		LocalIP:              appConfig.ListenIP,
		IgnoreChecksum:       appConfig.IgnoreChecksum,
		PacketLostSimulation: appConfig.PacketLostSimulation,
	}
}

// RawAdapter implements lib.Adapter on top of a raw IPv4 socket bound to one local address.
type RawAdapter struct {
	config    *Config
	localAddr netip.Addr
	conn      rs.RawConnection
	loss      *lossSimulator

	mu       sync.Mutex
	receiver lib.ReceiverFunc

	closeSignal chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func parseLocalIP(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "local ip %q", s)
	}
	addr = addr.Unmap()
	if !addr.Is4() || addr.IsUnspecified() {
		return netip.Addr{}, errors.Errorf("local ip %s must be a concrete IPv4 address", addr)
	}
	return addr, nil
}

// NewRawAdapter opens the raw socket through rscore and starts the reader goroutine.
// rscore is owned by the caller, there should be only one per process.
func NewRawAdapter(cfg *Config, rscore *rs.RSCore) (*RawAdapter, error) {
	if rscore == nil || *rscore == nil {
		return nil, errors.New("RSCore object should not be nil")
	}
	localAddr, err := parseLocalIP(cfg.LocalIP)
	if err != nil {
		return nil, err
	}

	conn, err := (*rscore).ListenIP("ip4:tcp", &net.IPAddr{IP: net.IP(localAddr.AsSlice())})
	if err != nil {
		return nil, errors.Wrapf(err, "listen ip4:tcp on %s", localAddr)
	}

	a := &RawAdapter{
		config:      cfg,
		localAddr:   localAddr,
		conn:        conn,
		closeSignal: make(chan struct{}),
	}
	if cfg.PacketLostSimulation {
		a.loss = newLossSimulator(rand.Intn)
	}

	a.wg.Add(1)
	go a.handleIncomingPackets()
	log.Printf("Raw adapter listening on %s", localAddr)
	return a, nil
}

func (a *RawAdapter) LocalAddr() netip.Addr {
	return a.localAddr
}

func (a *RawAdapter) Send(segment []byte, dst netip.Addr) error {
	if a.loss != nil && a.loss.drop() {
		log.Printf("Segment to %s is lost", dst)
		return nil
	}
	if _, err := a.conn.WriteTo(segment, &net.IPAddr{IP: net.IP(dst.AsSlice())}); err != nil {
		return errors.Wrapf(err, "write to %s", dst)
	}
	return nil
}

func (a *RawAdapter) RegisterReceiver(fn lib.ReceiverFunc) {
	a.mu.Lock()
	a.receiver = fn
	a.mu.Unlock()
}

func (a *RawAdapter) IgnoreChecksum() bool {
	return a.config.IgnoreChecksum
}

// handleIncomingPackets is the only caller of the receiver, so segments are processed one at a time.
func (a *RawAdapter) handleIncomingPackets() {
	defer a.wg.Done()

	buffer := make([]byte, maxSegmentSize)
	for {
		select {
		case <-a.closeSignal:
			log.Println("Closing raw adapter handleIncomingPackets go routine")
			return
		default:
			a.processIncomingPacket(buffer)
		}
	}
}

func (a *RawAdapter) processIncomingPacket(buffer []byte) {
	// Set a read deadline so closeSignal is noticed
	a.conn.SetReadDeadline(time.Now().Add(readTimeout))

	n, addr, err := a.conn.ReadFrom(buffer)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		select {
		case <-a.closeSignal:
		default:
			log.Println("RawAdapter.handleIncomingPackets: Error reading:", err)
		}
		return
	}

	ipAddr, ok := addr.(*net.IPAddr)
	if !ok {
		return
	}
	src, ok := netip.AddrFromSlice(ipAddr.IP)
	if !ok {
		return
	}

	a.mu.Lock()
	receiver := a.receiver
	a.mu.Unlock()
	if receiver != nil {
		receiver(src.Unmap(), a.localAddr, buffer[:n])
	}
}

// Close stops the reader goroutine and closes the socket. The RSCore is left to its owner.
func (a *RawAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closeSignal)
		a.wg.Wait()
		if cerr := a.conn.Close(); cerr != nil {
			err = errors.Wrap(cerr, "close raw socket")
		}
		log.Printf("Raw adapter on %s closed", a.localAddr)
	})
	return err
}

// lossSimulator drops one segment at a random position in every cycle of ten.
type lossSimulator struct {
	mu       sync.Mutex
	intn     func(int) int
	count    int
	lostSlot int
}

func newLossSimulator(intn func(int) int) *lossSimulator {
	return &lossSimulator{intn: intn}
}

func (l *lossSimulator) drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		l.lostSlot = l.intn(lossCycleLength)
	}
	lost := l.count == l.lostSlot
	l.count = (l.count + 1) % lossCycleLength
	return lost
}
