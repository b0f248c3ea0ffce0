// Package request defines the memory reference that flows through every
// level of the simulated cache and memory-controller stack.
package request

import "fmt"

// Kind is the access kind carried by a Request.
type Kind int

const (
	Read Kind = iota
	Write
	WriteBack
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case WriteBack:
		return "WriteBack"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Word is an aligned physical address, in bytes.
type Word uint64

func (w Word) String() string {
	return fmt.Sprintf("%#016x", uint64(w))
}

// Outcome is what a cache or controller reports back to the caller of
// Send/Enqueue for a given tick.
type Outcome int

const (
	// Hit means the tag lookup found a valid block.
	Hit Outcome = iota
	// WriteBackAbsorb means the address was reclaimed from the write-back
	// buffer before it went in flight; treated as a hit.
	WriteBackAbsorb
	// MSHRCoalesce means an in-flight miss already covers this address.
	MSHRCoalesce
	// AcceptedMiss means a new MSHR entry was allocated.
	AcceptedMiss
	// Blocked means the request was refused; the caller must retry.
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "Hit"
	case WriteBackAbsorb:
		return "WriteBackAbsorb"
	case MSHRCoalesce:
		return "MSHRCoalesce"
	case AcceptedMiss:
		return "AcceptedMiss"
	case Blocked:
		return "Blocked"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// CompletionFunc is a one-shot completion callback. It returns false if the
// completion could not be finished this tick (e.g. blocked on a full
// write-back buffer) and must be retried on a later tick.
type CompletionFunc func(tick uint64) bool

// Request carries one memory reference from its origin (a core's retirement
// window or a cache's eviction logic) down through the hierarchy.
//
// Invariants (see spec §3): BeginExec >= QueueArrival; EndExec > BeginExec;
// a WriteBack never creates an MSHR entry; a Read never promotes itself to
// dirty.
type Request struct {
	Addr Word
	Kind Kind

	CoreID int

	// IP is the first-touch instruction pointer, if known. Zero value
	// means "not applicable" (e.g. write-backs have no originating IP).
	IP uint64

	QueueArrival uint64
	BeginExec    uint64
	EndExec      uint64

	// Complete is invoked when the request's service finishes. It is
	// nil for requests that do not need a notification (e.g. internal
	// write-backs absorbed synchronously).
	Complete CompletionFunc

	// OrderID is a scheduling-only ageing counter used by the PLP and
	// LASER controllers to bound starvation (spec §4.6, §4.7). It is
	// meaningless to caches.
	OrderID int

	// Paired holds the partner of a PLP master/slave pair, or nil.
	Paired *Request
	// IsMaster is true for the request that owns the pair's lifetime in
	// the controller queue.
	IsMaster bool
}

// Dirty reports whether a fill of this request's target block should be
// marked dirty. Only writes dirty a block; reads and write-backs never do.
func (r *Request) Dirty() bool {
	return r.Kind == Write
}
