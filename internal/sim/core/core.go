// Package core implements the CPU-side in-order retirement window: a
// single simulated core that drains its trace one reference at a time,
// sending each into the top of its cache stack and waiting for the
// completion callback before releasing the next (spec §2 data flow, §1
// Non-goals: no speculative execution).
package core

import (
	"github.com/smoynes/hymem/internal/sim/request"
	"github.com/smoynes/hymem/internal/trace"
)

// L1 is the capability a core needs from the top of its cache stack.
type L1 interface {
	Send(req *request.Request, clk uint64) bool
	Tick(clk uint64)
	PendingRequests() int
}

// Source produces the next memory reference for a core to issue, or an
// error (io.EOF at exhaustion). A Core treats any error as the end of its
// trace.
type Source interface {
	Scan() (trace.Reference, error)
}

// Core drives one reference at a time through its L1, in order: the next
// reference is not issued until the current one completes (an in-order
// retirement window of depth one, per the Non-goal excluding speculative
// execution).
type Core struct {
	id     int
	l1     L1
	source Source

	outstanding *request.Request
	pending     *trace.Reference // set when Send refused and must be retried, not re-scanned
	done        bool

	retired uint64
}

// New creates a Core reading from source and issuing into l1.
func New(id int, l1 L1, source Source) *Core {
	return &Core{id: id, l1: l1, source: source}
}

// Done reports whether the trace is exhausted and every issued request has
// completed.
func (c *Core) Done() bool {
	return c.done && c.outstanding == nil && c.pending == nil
}

// Retired reports how many references this core has completed.
func (c *Core) Retired() uint64 { return c.retired }

// PendingRequests reports everything still outstanding downstream in this
// core's L1 (the core's own outstanding request, if any, is already counted
// there; it is only ever one of the L1's in-flight entries, not a second
// one).
func (c *Core) PendingRequests() int {
	return c.l1.PendingRequests()
}

// Tick advances the core by one cycle: if nothing is outstanding and the
// trace is not exhausted, try to issue the next reference; otherwise wait.
func (c *Core) Tick(clk uint64) {
	if c.outstanding != nil {
		return
	}

	var ref trace.Reference

	if c.pending != nil {
		ref = *c.pending
	} else {
		if c.done {
			return
		}

		scanned, err := c.source.Scan()
		if err != nil {
			c.done = true
			return
		}

		ref = scanned
	}

	req := &request.Request{
		Addr:   request.Word(ref.Addr),
		Kind:   refKind(ref.Kind),
		CoreID: c.id,
	}

	req.Complete = func(uint64) bool {
		c.outstanding = nil
		c.retired++

		return true
	}

	if !c.l1.Send(req, clk) {
		// Back-pressure: retry the same reference next tick instead of
		// scanning a new one.
		c.pending = &ref
		return
	}

	c.pending = nil
	c.outstanding = req
}

func refKind(k trace.Kind) request.Kind {
	if k == trace.Write {
		return request.Write
	}

	return request.Read
}
