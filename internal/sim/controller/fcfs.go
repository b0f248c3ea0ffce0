package controller

import (
	"github.com/smoynes/hymem/internal/log"
	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/request"
)

// Reorder selects between the two baseline scan orders of spec §4.5.
type Reorder int

const (
	// FCFS scans from the head and issues the first request whose bank
	// is free.
	FCFS Reorder = iota
	// FRFCFS ("first-ready") scans for any ready request, breaking ties
	// in queue order, reordering around bank conflicts.
	FRFCFS
)

// FCFSController is the baseline scheduler over a shared per-channel
// request queue (spec §4.5).
type FCFSController struct {
	base

	reorder Reorder
	decode  func(request.Word) Target
	energy  Energy
}

var _ Controller = (*FCFSController)(nil)

// NewFCFSController creates a baseline controller for one channel.
func NewFCFSController(channel *array.Node, geo array.Geometry, timings Timings, reorder Reorder, decode func(request.Word) Target, energy Energy, logger *log.Logger) *FCFSController {
	return &FCFSController{
		base:    newBase(channel, geo, timings, logger),
		reorder: reorder,
		decode:  decode,
		energy:  energy,
	}
}

// Enqueue implements Controller.
func (c *FCFSController) Enqueue(req *request.Request, clk uint64) bool {
	return c.enqueue(req, clk)
}

// Tick implements Controller: advance the clock, propagate to the array,
// complete finished requests, then attempt to schedule one request.
func (c *FCFSController) Tick(clk uint64) {
	c.clk = clk
	c.channel.Update(clk)
	c.completeReady(clk)
	c.scheduleOne(clk)
}

func (c *FCFSController) scheduleOne(clk uint64) {
	idx := c.pickIndex()
	if idx < 0 {
		return
	}

	c.issue(idx, clk)
}

// pickIndex returns the slot index to issue this tick, or -1 if nothing is
// issuable.
func (c *FCFSController) pickIndex() int {
	for i, s := range c.slots {
		t := c.decode(s.req.Addr)

		if !c.channel.IsFree(t.Rank, t.Bank) {
			if c.reorder == FCFS {
				// Strict FCFS: a blocked head stalls the whole queue.
				return -1
			}

			continue
		}

		return i
	}

	return -1
}

func (c *FCFSController) issue(idx int, clk uint64) {
	req := c.slots[idx].req
	t := c.decode(req.Addr)

	var latency uint64
	if req.Kind == request.Write {
		latency = c.timings.SingleWriteLatency()
		c.addEnergy(0, c.energy.PjBitSet, c.energy.PjBitReset)
	} else {
		latency = c.timings.SingleReadLatency()
		c.addEnergy(c.energy.PjBitRd, 0, 0)
	}

	c.channel.PostAccess(t.Rank, t.Bank, c.timings.TData, latency, latency)

	req.BeginExec = clk
	c.pending = append(c.pending, pending{req: req, endExe: clk + latency})

	c.removeAt(idx)
}
