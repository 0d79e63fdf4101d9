package sink

import (
	"sync"

	"github.com/roosniffer/roosniffer/internal/record"
)

// RingSubscriber is a bounded, drop-oldest queue of records for one
// in-process consumer (e.g. a future dashboard). Per spec.md §4.8 and §9,
// a slow subscriber must never block the proxy path — Notify always
// returns immediately, discarding the oldest buffered record to make room
// rather than waiting for the consumer to catch up.
type RingSubscriber struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []*record.Request
	capacity int
	closed   bool
}

// NewRingSubscriber creates a subscriber that retains at most capacity
// records, dropping the oldest on overflow.
func NewRingSubscriber(capacity int) *RingSubscriber {
	if capacity <= 0 {
		capacity = 256
	}
	s := &RingSubscriber{capacity: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Notify implements record.Subscriber. Never blocks.
func (s *RingSubscriber) Notify(r *record.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.buf) >= s.capacity {
		// Drop oldest.
		s.buf = s.buf[1:]
	}
	s.buf = append(s.buf, r)
	s.cond.Signal()
}

// Next blocks until a record is available or the subscriber is closed, in
// which case ok is false.
func (s *RingSubscriber) Next() (r *record.Request, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		return nil, false
	}
	r = s.buf[0]
	s.buf = s.buf[1:]
	return r, true
}

// Close unblocks any pending Next call and marks the subscriber dead.
func (s *RingSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}
