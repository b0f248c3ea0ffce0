// Package cache implements the level-generic cache: its deferred-entry
// queue (used for both the MSHR and the write-back buffer), its tag store
// and replacement policies, and the cache itself (spec §4.2-§4.4).
package cache

import (
	"errors"
	"fmt"

	"github.com/smoynes/hymem/internal/sim/request"
)

// ErrCapacityExceeded is returned by Allocate when the queue is full.
var ErrCapacityExceeded = errors.New("cache queue: capacity exceeded")

// entry is one deferred address awaiting drain.
type entry struct {
	addr      request.Word
	whenReady uint64
	inFlight  bool
	seq       uint64 // insertion order, for FIFO enumeration
}

// Queue is a small fixed-capacity set of deferred address entries with
// ready-ticks and in-flight flags. It backs both the MSHR and the
// write-back buffer of a Cache (spec §4.2 "Cache queue").
//
// Invariants: len(entries) <= capacity; each entry carries its own
// ready-tick and in-flight flag, so one map holds every queued address.
type Queue struct {
	capacity int
	entries  map[request.Word]*entry
	nextSeq  uint64
}

// NewQueue creates a deferred queue with the given fixed capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		entries:  make(map[request.Word]*entry, capacity),
	}
}

// Capacity returns the queue's fixed capacity.
func (q *Queue) Capacity() int { return q.capacity }

// Len returns the number of entries currently held.
func (q *Queue) Len() int { return len(q.entries) }

// IsFull reports whether the queue has no room for another entry.
func (q *Queue) IsFull() bool { return len(q.entries) >= q.capacity }

// IsInQueue reports whether addr has any entry, in flight or not.
func (q *Queue) IsInQueue(addr request.Word) bool {
	_, ok := q.entries[addr]
	return ok
}

// IsInQueueNotOnBoard reports whether addr has an entry that is not yet
// in flight.
func (q *Queue) IsInQueueNotOnBoard(addr request.Word) bool {
	e, ok := q.entries[addr]
	return ok && !e.inFlight
}

// Allocate inserts addr with the given ready-tick. It is idempotent: if the
// address is already present, Allocate reports hit=true (coalescing) and
// does not disturb the existing entry's ready-tick or in-flight state. If
// the address is new and the queue is full, it returns ErrCapacityExceeded.
func (q *Queue) Allocate(addr request.Word, whenReady uint64) (hit bool, err error) {
	if _, ok := q.entries[addr]; ok {
		return true, nil
	}

	if q.IsFull() {
		return false, fmt.Errorf("%w: addr=%s", ErrCapacityExceeded, addr)
	}

	q.entries[addr] = &entry{addr: addr, whenReady: whenReady, seq: q.nextSeq}
	q.nextSeq++

	return false, nil
}

// DeAllocate removes addr's entry, if any.
func (q *Queue) DeAllocate(addr request.Word) {
	delete(q.entries, addr)
}

// EntryOnBoard marks addr's entry as in flight (being serviced downstream).
// It is a no-op if the address is not queued.
func (q *Queue) EntryOnBoard(addr request.Word) {
	if e, ok := q.entries[addr]; ok {
		e.inFlight = true
	}
}

// GetReadyEntry returns the first entry, in insertion order, whose
// ready-tick has passed and which is not already in flight. ok is false if
// no entry qualifies.
func (q *Queue) GetReadyEntry(clk uint64) (ok bool, addr request.Word) {
	var best *entry

	for _, e := range q.entries {
		if e.inFlight || e.whenReady > clk {
			continue
		}

		if best == nil || e.seq < best.seq {
			best = e
		}
	}

	if best == nil {
		return false, 0
	}

	return true, best.addr
}
