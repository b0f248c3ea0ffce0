package controller

import (
	"github.com/smoynes/hymem/internal/log"
	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/request"
)

// PLPVariant selects the pairing discipline of the PLP controller (spec
// §4.6).
type PLPVariant int

const (
	// Base issues strictly FCFS; it only tracks power.
	Base PLPVariant = iota
	// PALPR opportunistically pairs R||W, never R||R.
	PALPR
	// PALP pairs both R||R and R||W.
	PALP
)

// PLPController schedules a per-channel queue with partition-level
// parallelism: two requests to the same (channel, rank, bank) but different
// partitions may be issued together as a master/slave pair (spec §4.6).
type PLPController struct {
	base

	variant PLPVariant
	decode  func(request.Word) Target

	thb               int64
	rapl              float64
	powerLimitEnabled bool
	starvFreeEnabled  bool

	energy Energy

	// power is the running average power, in picojoules per tick; updated
	// after every issue as described on updatePower.
	power float64
}

var _ Controller = (*PLPController)(nil)

// NewPLPController creates a PLP-family controller for one channel.
func NewPLPController(channel *array.Node, geo array.Geometry, timings Timings, variant PLPVariant, decode func(request.Word) Target, thb int64, rapl float64, powerLimitEnabled, starvFreeEnabled bool, energy Energy, logger *log.Logger) *PLPController {
	return &PLPController{
		base:              newBase(channel, geo, timings, logger),
		variant:           variant,
		decode:            decode,
		thb:               thb,
		rapl:              rapl,
		powerLimitEnabled: powerLimitEnabled,
		starvFreeEnabled:  starvFreeEnabled,
		energy:            energy,
	}
}

// Enqueue implements Controller.
func (c *PLPController) Enqueue(req *request.Request, clk uint64) bool {
	return c.enqueue(req, clk)
}

// Tick implements Controller.
func (c *PLPController) Tick(clk uint64) {
	c.clk = clk
	c.channel.Update(clk)
	c.completeReady(clk)
	c.scheduleOne(clk)
}

func (c *PLPController) scheduleOne(clk uint64) {
	if len(c.slots) == 0 {
		return
	}

	if c.starvFreeEnabled && c.variant != Base {
		if idx, slave := c.starvationCandidate(); idx >= 0 {
			c.issuePair(idx, slave, clk)
			return
		}
	}

	if c.variant == Base {
		c.scheduleFCFS(clk)
		return
	}

	masterIdx, slaveIdx := c.findPair()
	if masterIdx >= 0 {
		c.issuePair(masterIdx, slaveIdx, clk)
		return
	}

	c.scheduleFCFS(clk)
}

// starvationCandidate returns the head slot when it has aged past THB and
// its bank is free; it also greedily pairs it if a partner is available.
// Returns (-1, -1) if the starvation guard does not apply this tick.
func (c *PLPController) starvationCandidate() (int, int) {
	head := c.slots[0]
	if int64(head.req.OrderID) > c.thb {
		return -1, -1
	}

	t := c.decode(head.req.Addr)
	if !c.channel.IsFree(t.Rank, t.Bank) {
		return -1, -1
	}

	if slave := c.findPartner(0, t, head.req.Kind); slave >= 0 {
		return 0, slave
	}

	return 0, -1
}

func (c *PLPController) scheduleFCFS(clk uint64) {
	for i, s := range c.slots {
		t := c.decode(s.req.Addr)
		if c.channel.IsFree(t.Rank, t.Bank) {
			c.issuePair(i, -1, clk)
			return
		}
	}
}

// findPair walks the queue head to tail for the first request whose bank is
// free, then looks for a partner. Returns (-1, -1) when no pairing is
// possible.
func (c *PLPController) findPair() (int, int) {
	for i, s := range c.slots {
		t := c.decode(s.req.Addr)
		if !c.channel.IsFree(t.Rank, t.Bank) {
			continue
		}

		if slave := c.findPartner(i, t, s.req.Kind); slave >= 0 {
			return i, slave
		}
	}

	return -1, -1
}

// findPartner searches slots after masterIdx for one satisfying the
// same-channel/rank/bank, different-partition predicate, trying R||R before
// R||W when both are enabled, and rejecting a pairing that would push
// projected power past RAPL.
func (c *PLPController) findPartner(masterIdx int, masterTarget Target, masterKind request.Kind) int {
	rwEnergy := c.energy.PjBitRd + c.energy.PjBitSet + c.energy.PjBitReset

	if c.variant == PALP && masterKind == request.Read {
		if slave := c.findPartnerKind(masterIdx, masterTarget, request.Read, c.timings.PairedRRLatency(), 2*c.energy.PjBitRd); slave >= 0 {
			return slave
		}
	}

	if masterKind == request.Read {
		if slave := c.findPartnerKind(masterIdx, masterTarget, request.Write, c.timings.PairedRWLatency(), rwEnergy); slave >= 0 {
			return slave
		}
	} else if masterKind == request.Write {
		if slave := c.findPartnerKind(masterIdx, masterTarget, request.Read, c.timings.PairedRWLatency(), rwEnergy); slave >= 0 {
			return slave
		}
	}

	return -1
}

func (c *PLPController) findPartnerKind(masterIdx int, masterTarget Target, wantKind request.Kind, pairLatency uint64, energyPJ float64) int {
	for j := masterIdx + 1; j < len(c.slots); j++ {
		cand := c.slots[j]
		if cand.req.Kind != wantKind {
			continue
		}

		t := c.decode(cand.req.Addr)
		if t.Rank != masterTarget.Rank || t.Bank != masterTarget.Bank || t.Partition == masterTarget.Partition {
			continue
		}

		if c.powerLimitEnabled && c.projectedPower(pairLatency, energyPJ) >= c.rapl {
			continue
		}

		return j
	}

	return -1
}

// issuePair issues the request at masterIdx, optionally paired with the
// slave at slaveIdx. A pair leaves the queue through removePair, which
// removes the larger index first so the smaller one stays valid.
func (c *PLPController) issuePair(masterIdx, slaveIdx int, clk uint64) {
	master := c.slots[masterIdx].req
	t := c.decode(master.Addr)

	var latency uint64

	if slaveIdx < 0 {
		if master.Kind == request.Write {
			latency = c.timings.SingleWriteLatency()
			c.updatePower(latency, c.energy.PjBitSet+c.energy.PjBitReset)
			c.addEnergy(0, c.energy.PjBitSet, c.energy.PjBitReset)
		} else {
			latency = c.timings.SingleReadLatency()
			c.updatePower(latency, c.energy.PjBitRd)
			c.addEnergy(c.energy.PjBitRd, 0, 0)
		}

		c.channel.PostAccess(t.Rank, t.Bank, c.timings.TData, latency, latency)
		master.BeginExec = clk
		c.pending = append(c.pending, pending{req: master, endExe: clk + latency})
		c.removeAt(masterIdx)

		return
	}

	slave := c.slots[slaveIdx].req

	if master.Kind == request.Read && slave.Kind == request.Read {
		latency = c.timings.PairedRRLatency()
		c.updatePower(latency, 2*c.energy.PjBitRd)
		c.addEnergy(2*c.energy.PjBitRd, 0, 0)
	} else {
		latency = c.timings.PairedRWLatency()
		c.updatePower(latency, c.energy.PjBitRd+c.energy.PjBitSet+c.energy.PjBitReset)
		c.addEnergy(c.energy.PjBitRd, c.energy.PjBitSet, c.energy.PjBitReset)
	}

	c.channel.PostAccess(t.Rank, t.Bank, c.timings.TData, latency, latency)

	master.BeginExec = clk
	slave.BeginExec = clk
	master.Paired = slave
	master.IsMaster = true

	c.pending = append(c.pending, pending{req: master, endExe: clk + latency})
	c.pending = append(c.pending, pending{req: slave, endExe: clk + latency})

	c.removePair(masterIdx, slaveIdx)
}

// projectedPower reports what the running average would become if an
// operation of the given latency and total bit-energy were issued now,
// without committing the update.
func (c *PLPController) projectedPower(latency uint64, energyPJ float64) float64 {
	if latency == 0 {
		return c.power
	}

	opPower := energyPJ / float64(latency)

	return (c.power + opPower) / 2
}

// updatePower folds one operation into the running average power: the
// operation's power is its bit-energy divided by its serving latency, and
// the new average is the mean of the old average and that value. Each issue
// counts equally, whatever its latency or the time since the last issue; the
// average is not weighted by time.
func (c *PLPController) updatePower(latency uint64, energyPJ float64) {
	if latency == 0 {
		return
	}

	opPower := energyPJ / float64(latency)
	c.power = (c.power + opPower) / 2
}

// Power reports the controller's current running-average power estimate,
// for statistics output.
func (c *PLPController) Power() float64 { return c.power }
