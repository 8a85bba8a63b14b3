package events

import (
	"runtime"
	"sync/atomic"
)

// DefaultRingCapacity is the ring size from §4.6 used when no explicit
// capacity is configured. Per §6's event_ring_capacity option, callers
// may override it; it must be a power of two so slot indexing can use a
// mask instead of a modulo.
const DefaultRingCapacity = 16384

// ring is a multi-producer, single-consumer lock-free queue. Producers
// (the Classifier Engine and Session Tracker, running on many data-path
// threads with no coordination between them) claim a slot with an
// atomic compare-and-swap on the write cursor and then publish into it;
// the drain worker is the ring's sole consumer, matching the
// single-consumer drain side of the concurrency model. A full ring
// drops the event and increments droppedCount rather than blocking the
// data path.
type ring struct {
	slots    []atomic.Pointer[Event]
	mask     uint64
	writeSeq atomic.Uint64
	readSeq  atomic.Uint64
	dropped  atomic.Uint64
}

// newRing builds a ring of the given capacity, rounded up to the next
// power of two (DefaultRingCapacity if capacity <= 0).
func newRing(capacity int) *ring {
	capacity = nextPowerOfTwo(capacity)
	return &ring{
		slots: make([]atomic.Pointer[Event], capacity),
		mask:  uint64(capacity - 1),
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return DefaultRingCapacity
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// push attempts to enqueue evt. It returns false if the ring is full, in
// which case the caller must not block — the data path never blocks.
func (r *ring) push(evt Event) bool {
	capacity := uint64(len(r.slots))
	for {
		w := r.writeSeq.Load()
		read := r.readSeq.Load()
		if w-read >= capacity {
			r.dropped.Add(1)
			return false
		}
		if r.writeSeq.CompareAndSwap(w, w+1) {
			slot := &r.slots[w&r.mask]
			e := evt
			slot.Store(&e)
			return true
		}
	}
}

// pop dequeues the next event in order, spinning briefly if a producer
// has claimed the next slot but not yet published into it. It returns
// ok=false once the consumer has caught up to the write cursor.
func (r *ring) pop() (Event, bool) {
	read := r.readSeq.Load()
	if read >= r.writeSeq.Load() {
		return Event{}, false
	}
	slot := &r.slots[read&r.mask]
	var p *Event
	for spins := 0; spins < 1000; spins++ {
		p = slot.Load()
		if p != nil {
			break
		}
		runtime.Gosched()
	}
	if p == nil {
		return Event{}, false
	}
	slot.Store(nil)
	r.readSeq.Store(read + 1)
	return *p, true
}

// droppedCount reports the running total of events dropped because the
// ring was full at push time.
func (r *ring) droppedCount() uint64 {
	return r.dropped.Load()
}
