package lib

import (
	"fmt"
	"log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// Payload is a fixed-capacity buffer handed out by the payload ring pool.
// Each pending segment's bytes live in one Payload until the peer acknowledges them.
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload is the ring pool's element constructor. Its only parameter is the buffer length.
func NewPayload(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Println("NewPayload: Invalid number of calling parameters. Should be only one: bufferlength")
		return nil
	}

	bufferLength, ok := params[0].(int)
	if !ok {
		log.Println("NewPayload: Invalid data type of bufferLength. Should be of type int")
		return nil
	}

	return &Payload{
		payloadBytes: make([]byte, bufferLength),
	}
}

// set the content of the payload
func (p *Payload) SetContent(s string) {
	p.length = copy(p.payloadBytes, s)
}

// Reset resets the content of the payload
func (p *Payload) Reset() {
	clear(p.payloadBytes[:p.length])
	p.length = 0
}

// PrintContent prints the content of the payload
func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("Payload Copy: Source byte slice(%d) is longer than bufferLength(%d)", len(src), len(p.payloadBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("Payload Copy: Source byte slice is empty")
	}
	copy(p.payloadBytes, src)
	p.length = len(src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}

// newPayloadPool builds the ring pool backing every listener's pending segments.
func newPayloadPool(config *ListenerConfig) *rp.RingPool {
	rp.Debug = config.PoolDebug
	pool := rp.NewRingPool("TCPCORE: ", config.PayloadPoolSize, NewPayload, config.MSS)
	pool.Debug = config.PoolDebug
	pool.ProcessTimeThreshold = config.ProcessTimeThreshold
	return pool
}
