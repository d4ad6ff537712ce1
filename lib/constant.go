package lib

import "time"

// Flag constants
const (
	URGFlag uint8 = 1 << 5
	ACKFlag uint8 = 1 << 4
	PSHFlag uint8 = 1 << 3
	RSTFlag uint8 = 1 << 2
	SYNFlag uint8 = 1 << 1
	FINFlag uint8 = 1 << 0
)

const (
	TcpHeaderLength = 20     //options not included
	MaxISN          = 0xffff // initial sequence numbers are drawn from [0, MaxISN]
)

const (
	DefaultMSS                = 1460
	DefaultWindowSize         = 65535
	DefaultRetransmitInterval = time.Second
	DefaultPayloadPoolSize    = 2000
)

// State is the lifecycle stage of an accepted connection.
type State int

const (
	StateOpen    State = iota // handshake answered, data flows both ways
	StateFinSent              // local FIN sent, waiting for the peer to acknowledge it
	StateClosed               // local FIN acknowledged or listener shut down
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateFinSent:
		return "FinSent"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
