package capture

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Clouded-Sabre/tcpcore/lib"
)

type loopAdapter struct {
	receiver lib.ReceiverFunc
	sent     int
}

func (a *loopAdapter) Send([]byte, netip.Addr) error {
	a.sent++
	return nil
}

func (a *loopAdapter) RegisterReceiver(fn lib.ReceiverFunc) {
	a.receiver = fn
}

func (a *loopAdapter) IgnoreChecksum() bool {
	return true
}

var (
	local  = netip.MustParseAddr("10.0.0.1")
	remote = netip.MustParseAddr("1.2.3.4")
)

func segment(t *testing.T, src, dst netip.Addr, srcPort, dstPort uint16, flags uint8, payload string) []byte {
	t.Helper()
	seg := &lib.Segment{SourcePort: srcPort, DestinationPort: dstPort, SequenceNumber: 100, Flags: flags, WindowSize: 1024, Payload: []byte(payload)}
	raw, err := seg.Marshal(src, dst)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return raw
}

func TestRecorderWritesBothDirections(t *testing.T) {
	inner := &loopAdapter{}
	var out bytes.Buffer
	r, err := NewRecorder(inner, &out, local)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	var delivered int
	r.RegisterReceiver(func(src, dst netip.Addr, seg []byte) { delivered++ })
	inner.receiver(remote, local, segment(t, remote, local, 5000, 80, lib.SYNFlag, ""))
	if err := r.Send(segment(t, local, remote, 80, 5000, lib.SYNFlag|lib.ACKFlag, "hi"), remote); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if delivered != 1 || inner.sent != 1 {
		t.Fatalf("delivered %d sent %d, want 1 and 1", delivered, inner.sent)
	}
	if !r.IgnoreChecksum() {
		t.Errorf("IgnoreChecksum not forwarded")
	}

	reader, err := pcapgo.NewReader(&out)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if reader.LinkType() != layers.LinkTypeRaw {
		t.Errorf("link type = %v", reader.LinkType())
	}

	want := []struct {
		src, dst netip.Addr
		syn, ack bool
		payload  string
	}{
		{remote, local, true, false, ""},
		{local, remote, true, true, "hi"},
	}
	for i, w := range want {
		data, _, err := reader.ReadPacketData()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
		ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok {
			t.Fatalf("packet %d has no IPv4 layer", i)
		}
		if ip.SrcIP.String() != w.src.String() || ip.DstIP.String() != w.dst.String() {
			t.Errorf("packet %d addresses %s -> %s", i, ip.SrcIP, ip.DstIP)
		}
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok {
			t.Fatalf("packet %d has no TCP layer", i)
		}
		if tcp.SYN != w.syn || tcp.ACK != w.ack || string(tcp.Payload) != w.payload {
			t.Errorf("packet %d SYN=%t ACK=%t payload=%q", i, tcp.SYN, tcp.ACK, tcp.Payload)
		}
	}
}
