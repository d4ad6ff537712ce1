package lib

import "net/netip"

// ReceiverFunc consumes one inbound TCP segment (no IP header) together with
// the IP addresses it travelled between.
type ReceiverFunc func(src, dst netip.Addr, segment []byte)

// Adapter is the datagram service the listener runs over.
type Adapter interface {
	// Send transmits a complete TCP segment to dst.
	Send(segment []byte, dst netip.Addr) error
	// RegisterReceiver installs the callback for inbound segments.
	RegisterReceiver(fn ReceiverFunc)
	// IgnoreChecksum disables checksum validation of inbound segments.
	IgnoreChecksum() bool
}
