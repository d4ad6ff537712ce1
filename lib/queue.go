package lib

import (
	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/gammazero/deque"
)

// pendingSegment is an unacknowledged chunk of outbound data keyed by its first sequence number.
type pendingSegment struct {
	seq       uint32
	data      []byte
	chunk     *rp.Element // nil when the pool was exhausted and data lives on the heap
	footprint int
}

func (s *pendingSegment) end() uint32 {
	return SeqIncrementBy(s.seq, uint32(len(s.data)))
}

// pendingQueue holds sent-but-unacknowledged segments in send order.
// Keys are strictly increasing and contiguous, so the front is always the oldest segment.
type pendingQueue struct {
	segments *deque.Deque[*pendingSegment]
	pool     *rp.RingPool
}

func newPendingQueue(pool *rp.RingPool) *pendingQueue {
	return &pendingQueue{
		segments: deque.New[*pendingSegment](),
		pool:     pool,
	}
}

// push copies data into a pool chunk and appends it under key seq.
func (q *pendingQueue) push(seq uint32, data []byte) *pendingSegment {
	s := &pendingSegment{seq: seq}
	if q.pool != nil {
		s.chunk = q.pool.GetElement()
	}
	if s.chunk != nil {
		payload := s.chunk.Data.(*Payload)
		if err := payload.Copy(data); err == nil {
			s.data = payload.GetSlice()
			if rp.Debug {
				s.footprint = s.chunk.AddFootPrint("pendingQueue.push")
			}
		} else {
			q.pool.ReturnElement(s.chunk)
			s.chunk = nil
		}
	}
	if s.chunk == nil {
		s.data = append([]byte(nil), data...)
	}
	q.segments.PushBack(s)
	return s
}

func (q *pendingQueue) len() int {
	return q.segments.Len()
}

func (q *pendingQueue) front() *pendingSegment {
	if q.segments.Len() == 0 {
		return nil
	}
	return q.segments.Front()
}

// popAcked removes every leading segment whose last byte is covered by ack and
// returns how many were removed.
func (q *pendingQueue) popAcked(ack uint32) int {
	n := 0
	for q.segments.Len() > 0 && isLessOrEqual(q.segments.Front().end(), ack) {
		q.release(q.segments.PopFront())
		n++
	}
	return n
}

func (q *pendingQueue) clear() {
	for q.segments.Len() > 0 {
		q.release(q.segments.PopFront())
	}
}

func (q *pendingQueue) keys() []uint32 {
	keys := make([]uint32, 0, q.segments.Len())
	for i := 0; i < q.segments.Len(); i++ {
		keys = append(keys, q.segments.At(i).seq)
	}
	return keys
}

func (q *pendingQueue) release(s *pendingSegment) {
	if s.chunk == nil {
		return
	}
	if rp.Debug {
		s.chunk.TickFootPrint(s.footprint)
	}
	q.pool.ReturnElement(s.chunk)
	s.chunk = nil
	s.data = nil
}
