// Package capture records the segments crossing a lib.Adapter into a pcap file.
package capture

import (
	"io"
	"log"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/Clouded-Sabre/tcpcore/lib"
)

const snapLen = 65536

// Recorder is a lib.Adapter that writes every segment it forwards, in both
// directions, as a raw IPv4 packet to a pcap stream.
type Recorder struct {
	adapter lib.Adapter
	local   netip.Addr // source address of outbound segments

	mu     sync.Mutex
	writer *pcapgo.Writer
	now    func() time.Time
}

// NewRecorder writes the pcap file header to w and wraps adapter.
func NewRecorder(adapter lib.Adapter, w io.Writer, local netip.Addr) (*Recorder, error) {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return nil, errors.Wrap(err, "write pcap header")
	}
	return &Recorder{
		adapter: adapter,
		local:   local,
		writer:  writer,
		now:     time.Now,
	}, nil
}

func (r *Recorder) Send(segment []byte, dst netip.Addr) error {
	r.record(r.local, dst, segment)
	return r.adapter.Send(segment, dst)
}

func (r *Recorder) RegisterReceiver(fn lib.ReceiverFunc) {
	r.adapter.RegisterReceiver(func(src, dst netip.Addr, segment []byte) {
		r.record(src, dst, segment)
		fn(src, dst, segment)
	})
}

func (r *Recorder) IgnoreChecksum() bool {
	return r.adapter.IgnoreChecksum()
}

func (r *Recorder) record(src, dst netip.Addr, segment []byte) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(src.Unmap().AsSlice()),
		DstIP:    net.IP(dst.Unmap().AsSlice()),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(segment)); err != nil {
		log.Printf("capture: cannot frame segment %s -> %s: %v", src, dst, err)
		return
	}
	data := buf.Bytes()

	r.mu.Lock()
	defer r.mu.Unlock()
	ci := gopacket.CaptureInfo{Timestamp: r.now(), CaptureLength: len(data), Length: len(data)}
	if err := r.writer.WritePacket(ci, data); err != nil {
		log.Printf("capture: write failed: %v", err)
	}
}
