package controller

import (
	"github.com/smoynes/hymem/internal/log"
	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/request"
)

// CPScheme selects a LASER variant's charge-pump discharge policy (spec
// §4.7).
type CPScheme int

const (
	// CPStatic discharges per-write, or once a bank's working+idle time
	// crosses a fixed threshold.
	CPStatic CPScheme = iota
	// LASER1 discharges both pumps of a bank together.
	LASER1
	// LASER2 discharges the read and write pumps of a bank independently.
	LASER2
)

// cpStatus names which charge pumps are energized for a bank.
type cpStatus int

const (
	rcpOn cpStatus = iota
	wcpOn
	bothOn
	bothOff
)

// bankState is the per-(rank,bank) bookkeeping LASER needs beyond the
// shared array availability model.
type bankState struct {
	status cpStatus

	working uint64 // total ticks this bank has spent servicing requests
	idle    uint64 // total ticks since the bank last served anything
	rcpIdle uint64 // ticks since the read pump last served a read
	wcpIdle uint64 // ticks since the write pump last served a write

	reads  uint64
	writes uint64
}

// backLoggingThreshold is the OrderID floor below which the oldest read is
// forced to issue regardless of the open-bank preference (spec §4.7).
const backLoggingThreshold = -16

// LASERController schedules split read/write queues over per-bank charge
// pumps, switching between read and write mode on a watermark and
// discharging idle pumps per the configured scheme (spec §4.7).
type LASERController struct {
	base

	scheme CPScheme
	decode func(request.Word) Target
	energy Energy

	readq  []*slot
	writeq []*slot

	writeMode bool

	wrHighWatermark float64
	wrLowWatermark  float64
	maxQueue        int

	nclksRCP uint64
	nclksWCP uint64

	banks [][]bankState // indexed [rank][bank]
}

var _ Controller = (*LASERController)(nil)

// NewLASERController creates a LASER-family controller for one channel.
func NewLASERController(channel *array.Node, geo array.Geometry, timings Timings, scheme CPScheme, decode func(request.Word) Target, wrHigh, wrLow float64, maxQueue int, energy Energy, logger *log.Logger) *LASERController {
	banks := make([][]bankState, geo.Ranks)
	for r := range banks {
		banks[r] = make([]bankState, geo.Banks)
	}

	return &LASERController{
		base:            newBase(channel, geo, timings, logger),
		scheme:          scheme,
		decode:          decode,
		energy:          energy,
		wrHighWatermark: wrHigh,
		wrLowWatermark:  wrLow,
		maxQueue:        maxQueue,
		// The charge/discharge latency is taken as a fifth of the
		// matching single-access latency, per the reference charge-pump
		// controller's choice of time constant.
		nclksRCP: timings.SingleReadLatency() / 5,
		nclksWCP: timings.SingleWriteLatency() / 5,
		banks:    banks,
	}
}

// Enqueue routes req into the read or write queue (spec §4.7's split
// queues), assigning OrderID within that queue.
func (c *LASERController) Enqueue(req *request.Request, clk uint64) bool {
	if len(c.readq)+len(c.writeq) >= c.maxQueue {
		return false
	}

	req.QueueArrival = clk

	if req.Kind == request.Write {
		req.OrderID = len(c.writeq)
		c.writeq = append(c.writeq, &slot{req: req})
	} else {
		req.OrderID = len(c.readq)
		c.readq = append(c.readq, &slot{req: req})
	}

	return true
}

// PendingRequests implements Controller.
func (c *LASERController) PendingRequests() int {
	return len(c.readq) + len(c.writeq) + len(c.pending)
}

func (c *LASERController) bank(t Target) *bankState {
	return &c.banks[t.Rank][t.Bank]
}

// Tick implements Controller: complete pendings, choose read/write mode,
// update per-bank working/idle tables, discharge open banks, then schedule
// one request (spec §4.7).
func (c *LASERController) Tick(clk uint64) {
	c.clk = clk
	c.channel.Update(clk)
	c.completeReady(clk)
	c.chooseMode()
	c.tableUpdate()
	c.dischargeOpenBanks()
	c.scheduleOne(clk)
}

func (c *LASERController) chooseMode() {
	max := float64(c.maxQueue)

	if !c.writeMode {
		if float64(len(c.writeq)) > c.wrHighWatermark*max || (len(c.readq) == 0 && len(c.writeq) != 0) {
			c.writeMode = true
		}
	} else {
		if float64(len(c.writeq)) < c.wrLowWatermark*max && len(c.readq) != 0 {
			c.writeMode = false
		}
	}
}

// tableUpdate advances the idle counters of every open bank by one tick;
// working/read/write counts are updated at issue time instead.
func (c *LASERController) tableUpdate() {
	for r := range c.banks {
		for b := range c.banks[r] {
			bs := &c.banks[r][b]
			if bs.status == bothOff {
				continue
			}

			bs.idle++

			if bs.status == wcpOn || bs.status == bothOn {
				bs.wcpIdle++
			}

			if bs.status == rcpOn || bs.status == bothOn {
				bs.rcpIdle++
			}
		}
	}
}

func agingPS(writes, idle uint64) float64 { return 580.95*float64(writes) + 0.03*float64(idle) }
func agingSA(reads, idle uint64) float64  { return 59.63*float64(reads) + 0.03*float64(idle) }

// pendingTargets reports whether any queued request still targets (rank,
// bank), split by kind.
func (c *LASERController) pendingTargets(rank, bank int) (reads, writes bool) {
	for _, s := range c.readq {
		t := c.decode(s.req.Addr)
		if t.Rank == rank && t.Bank == bank {
			reads = true
			break
		}
	}

	for _, s := range c.writeq {
		t := c.decode(s.req.Addr)
		if t.Rank == rank && t.Bank == bank {
			writes = true
			break
		}
	}

	return reads, writes
}

// dischargeOpenBanks applies the configured scheme's per-bank discharge
// policy (spec §4.7). A CP-Static or LASER-1 discharge imposes bank latency
// and resets the whole bank state; a LASER-2 discharge adds no latency and
// clears only the discharged pump's served count and idle counter.
func (c *LASERController) dischargeOpenBanks() {
	for r := range c.banks {
		for b := range c.banks[r] {
			bs := &c.banks[r][b]
			if bs.status == bothOff {
				continue
			}

			reads, writes := c.pendingTargets(r, b)

			switch c.scheme {
			case CPStatic:
				c.dischargeStatic(bs, r, b)
			case LASER1:
				c.dischargeLASER1(bs, r, b, reads, writes)
			case LASER2:
				c.dischargeLASER2(bs, r, b, reads, writes)
			}
		}
	}
}

func (c *LASERController) dischargeStatic(bs *bankState, rank, bank int) {
	discharge := bs.writes > 0 || bs.working+bs.idle >= 1000
	if !discharge {
		return
	}

	c.channel.PostAccess(rank, bank, 0, 0, c.nclksWCP+10)
	*bs = bankState{status: bothOff}
}

func (c *LASERController) dischargeLASER1(bs *bankState, rank, bank int, reads, writes bool) {
	ps := agingPS(bs.writes, bs.idle)
	sa := agingSA(bs.reads, bs.idle)

	if bs.status != bothOn {
		return
	}

	if ps > 1000 || sa > 1000 || (!reads && !writes) {
		c.channel.PostAccess(rank, bank, 0, 0, c.nclksWCP+10)
		*bs = bankState{status: bothOff}
	}
}

func (c *LASERController) dischargeLASER2(bs *bankState, rank, bank int, reads, writes bool) {
	ps := agingPS(bs.writes, bs.idle)
	sa := agingSA(bs.reads, bs.idle)

	if (bs.status == wcpOn || bs.status == bothOn) && (ps > 1000 || !writes) {
		switch bs.status {
		case wcpOn:
			bs.status = bothOff
		case bothOn:
			bs.status = rcpOn
		}

		bs.writes = 0
		bs.wcpIdle = 0
	}

	if (bs.status == rcpOn || bs.status == bothOn) && (sa > 1000 || (!reads && !writes)) {
		switch bs.status {
		case rcpOn:
			bs.status = bothOff
		case bothOn:
			bs.status = wcpOn
		}

		bs.reads = 0
		bs.rcpIdle = 0
	}
}

// scheduleOne implements the selection policy of spec §4.7: back-logging
// first, then open-bank preference, then a plain bank-free fallback; ages
// every unscheduled request's OrderID down by one.
func (c *LASERController) scheduleOne(clk uint64) {
	active := &c.readq
	idle := &c.writeq

	if c.writeMode {
		active, idle = idle, active
	}

	idx := c.pickIndex(*active)
	if idx < 0 {
		c.ageUnscheduled(*active, -1)
		c.ageUnscheduled(*idle, -1)

		return
	}

	c.ageUnscheduled(*idle, -1)
	c.issue(active, idx, clk)
}

func (c *LASERController) pickIndex(queue []*slot) int {
	if len(queue) == 0 {
		return -1
	}

	if !c.writeMode && queue[0].req.OrderID <= backLoggingThreshold {
		t := c.decode(queue[0].req.Addr)
		if c.channel.IsFree(t.Rank, t.Bank) {
			return 0
		}

		return -1
	}

	mostIdle := int64(-1)
	mostIdleIdx := -1

	for i, s := range queue {
		t := c.decode(s.req.Addr)
		bs := c.bank(t)

		pumpReady := false
		if s.req.Kind == request.Read {
			pumpReady = bs.status == rcpOn || bs.status == bothOn
		} else {
			pumpReady = bs.status == bothOn
		}

		if !pumpReady || !c.channel.IsFree(t.Rank, t.Bank) {
			continue
		}

		idle := int64(bs.idle)
		if idle > mostIdle {
			mostIdle = idle
			mostIdleIdx = i
		}
	}

	if mostIdleIdx >= 0 {
		return mostIdleIdx
	}

	for i, s := range queue {
		t := c.decode(s.req.Addr)
		if c.channel.IsFree(t.Rank, t.Bank) {
			return i
		}
	}

	return -1
}

func (c *LASERController) issue(queue *[]*slot, idx int, clk uint64) {
	req := (*queue)[idx].req
	t := c.decode(req.Addr)
	bs := c.bank(t)

	chargingLatency := c.chargeLatency(bs, req.Kind)
	c.transitionOn(bs, req.Kind)

	var opLatency uint64
	if req.Kind == request.Write {
		opLatency = c.timings.SingleWriteLatency()
		bs.writes++
		c.addEnergy(0, c.energy.PjBitSet, c.energy.PjBitReset)
	} else {
		opLatency = c.timings.SingleReadLatency()
		bs.reads++
		c.addEnergy(c.energy.PjBitRd, 0, 0)
	}

	latency := chargingLatency + opLatency
	bs.working += opLatency
	bs.idle = 0

	if req.Kind == request.Read {
		bs.rcpIdle = 0
	} else {
		bs.wcpIdle = 0
	}

	c.channel.PostAccess(t.Rank, t.Bank, c.timings.TData, latency, latency)

	req.BeginExec = clk
	c.pending = append(c.pending, pending{req: req, endExe: clk + latency})

	// LASER's OrderID is a pure back-logging age: every other request in
	// this queue ages by one and the issued one is simply spliced out, with
	// no renumbering (spec §4.7).
	c.ageUnscheduled(*queue, idx)

	*queue = append((*queue)[:idx], (*queue)[idx+1:]...)
}

// chargeLatency is non-zero only when the required pump was fully off; it
// is always hidden (0) for LASER2.
func (c *LASERController) chargeLatency(bs *bankState, kind request.Kind) uint64 {
	if c.scheme == LASER2 {
		return 0
	}

	if kind == request.Read {
		if bs.status == bothOff || bs.status == wcpOn {
			return c.nclksRCP
		}

		return 0
	}

	if bs.status == bothOff {
		return c.nclksWCP
	}

	return 0
}

func (c *LASERController) transitionOn(bs *bankState, kind request.Kind) {
	if kind == request.Write {
		bs.status = bothOn
		return
	}

	switch bs.status {
	case bothOff:
		bs.status = rcpOn
	case wcpOn:
		bs.status = bothOn
	}
}

// ageUnscheduled decrements the OrderID of every request in queue except
// the one just issued at skipIdx (pass -1 to age the whole queue), tracking
// back-logging per spec §4.7.
func (c *LASERController) ageUnscheduled(queue []*slot, skipIdx int) {
	for i, s := range queue {
		if i == skipIdx {
			continue
		}

		s.req.OrderID--
	}
}
