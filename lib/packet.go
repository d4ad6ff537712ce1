package lib

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// Segment is a decoded TCP segment without options.
type Segment struct {
	SourcePort        uint16
	DestinationPort   uint16
	SequenceNumber    uint32
	AcknowledgmentNum uint32
	Flags             uint8
	WindowSize        uint16
	Checksum          uint16
	UrgentPointer     uint16
	Payload           []byte
}

func (s *Segment) HasFlag(flag uint8) bool {
	return s.Flags&flag != 0
}

func (s *Segment) String() string {
	return fmt.Sprintf("%d->%d seq=%d ack=%d flags=%s len=%d", s.SourcePort, s.DestinationPort,
		s.SequenceNumber, s.AcknowledgmentNum, flagString(s.Flags), len(s.Payload))
}

// Marshal encodes the segment and fills in the checksum computed over the
// IPv4 pseudo header of src -> dst.
func (s *Segment) Marshal(src, dst netip.Addr) ([]byte, error) {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SourcePort),
		DstPort: layers.TCPPort(s.DestinationPort),
		Seq:     s.SequenceNumber,
		Ack:     s.AcknowledgmentNum,
		Window:  s.WindowSize,
		Urgent:  s.UrgentPointer,
		FIN:     s.HasFlag(FINFlag),
		SYN:     s.HasFlag(SYNFlag),
		RST:     s.HasFlag(RSTFlag),
		PSH:     s.HasFlag(PSHFlag),
		ACK:     s.HasFlag(ACKFlag),
		URG:     s.HasFlag(URGFlag),
	}
	if err := tcp.SetNetworkLayerForChecksum(pseudoHeader(src, dst)); err != nil {
		return nil, errors.Wrap(err, "segment marshal")
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, tcp, gopacket.Payload(s.Payload)); err != nil {
		return nil, errors.Wrapf(err, "segment marshal %s -> %s", src, dst)
	}
	s.Checksum = tcp.Checksum
	return buf.Bytes(), nil
}

// Unmarshal decodes a raw TCP segment. The returned payload does not alias data.
func Unmarshal(data []byte) (*Segment, error) {
	if len(data) < TcpHeaderLength {
		return nil, errors.Wrapf(ErrShortSegment, "%d bytes", len(data))
	}
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, errors.Wrap(err, "segment unmarshal")
	}

	s := &Segment{
		SourcePort:        uint16(tcp.SrcPort),
		DestinationPort:   uint16(tcp.DstPort),
		SequenceNumber:    tcp.Seq,
		AcknowledgmentNum: tcp.Ack,
		WindowSize:        tcp.Window,
		Checksum:          tcp.Checksum,
		UrgentPointer:     tcp.Urgent,
	}
	for _, f := range []struct {
		set  bool
		flag uint8
	}{
		{tcp.FIN, FINFlag}, {tcp.SYN, SYNFlag}, {tcp.RST, RSTFlag},
		{tcp.PSH, PSHFlag}, {tcp.ACK, ACKFlag}, {tcp.URG, URGFlag},
	} {
		if f.set {
			s.Flags |= f.flag
		}
	}
	if len(tcp.Payload) > 0 {
		s.Payload = append([]byte(nil), tcp.Payload...)
	}
	return s, nil
}

// VerifyChecksum reports whether the ones-complement sum over the pseudo
// header of src -> dst and the whole segment folds to zero.
func VerifyChecksum(data []byte, src, dst netip.Addr) bool {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return false
	}
	if err := tcp.SetNetworkLayerForChecksum(pseudoHeader(src, dst)); err != nil {
		return false
	}
	csum, err := tcp.ComputeChecksum()
	return err == nil && csum == 0
}

func pseudoHeader(src, dst netip.Addr) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(src.Unmap().AsSlice()),
		DstIP:    net.IP(dst.Unmap().AsSlice()),
	}
}

func flagString(flags uint8) string {
	names := []struct {
		flag uint8
		name string
	}{
		{SYNFlag, "S"}, {FINFlag, "F"}, {RSTFlag, "R"}, {PSHFlag, "P"}, {ACKFlag, "."}, {URGFlag, "U"},
	}
	out := ""
	for _, n := range names {
		if flags&n.flag != 0 {
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}
