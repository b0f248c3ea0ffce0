// Package controller implements the memory-controller scheduler family:
// the baseline FCFS/FR-FCFS controller, the PLP controller (PALP/PALP-R),
// and the LASER controller (CP-Static/LASER-1/LASER-2), all operating over
// a per-channel PCM (or DRAM) array (spec §4.5-§4.7).
package controller

import (
	"github.com/smoynes/hymem/internal/log"
	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/request"
)

// Controller is the capability set every scheduler variant implements. A
// MemorySystem dispatches through this interface alone.
type Controller interface {
	// Enqueue admits req into the channel's request queue. It returns
	// false (ErrQueueFull, surfaced as a plain bool per spec §7) if the
	// queue is at capacity.
	Enqueue(req *request.Request, clk uint64) bool

	// Tick advances the clock, the array, completes finished requests,
	// and attempts to schedule one more.
	Tick(clk uint64)

	// PendingRequests reports the number of requests still in flight.
	PendingRequests() int

	// Energy reports this channel's cumulative per-bit energy spent on
	// issued accesses, broken down by read/set/reset component, for
	// statistics output.
	Energy() EnergyTotals
}

// queueCapacity is the bounded FIFO's fixed capacity (spec §4.5).
const queueCapacity = 64

// Timings are the controller-tick latencies read from configuration
// (spec §6).
type Timings struct {
	TRCD uint64
	TData uint64
	TWL  uint64
	TWR  uint64
	TCL  uint64
}

// SingleReadLatency is tRCD + tData + tCL (spec §4.6).
func (t Timings) SingleReadLatency() uint64 { return t.TRCD + t.TData + t.TCL }

// SingleWriteLatency is tRCD + tData + tWL + tWR (spec §4.6).
func (t Timings) SingleWriteLatency() uint64 { return t.TRCD + t.TData + t.TWL + t.TWR }

// PairedRRLatency is 3*tRCD + tCL + 2*tData, the cost of an R||R pair.
func (t Timings) PairedRRLatency() uint64 { return 3*t.TRCD + t.TCL + 2*t.TData }

// PairedRWLatency is tRCD + single_write_latency, the cost of an R||W pair.
func (t Timings) PairedRWLatency() uint64 { return t.TRCD + t.SingleWriteLatency() }

// Energy are the per-bit energy/latency parameters read from configuration
// (spec §6), used by the PLP power model and, for every controller family,
// cumulative energy accounting.
type Energy struct {
	NsBitRd, NsBitSet, NsBitReset    float64
	PjBitRd, PjBitSet, PjBitReset    float64
}

// EnergyTotals is the cumulative picojoule energy a controller has spent
// issuing accesses, broken down into the read/set/reset components of
// configuration's Energy (SPEC_FULL.md's per-run energy accounting,
// surfaced as the `rd_energy_pj`/`set_energy_pj`/`reset_energy_pj` stats).
// Unlike PLPController.power, which is a running average used for the RAPL
// power limit, this is a plain running sum.
type EnergyTotals struct {
	RdPJ, SetPJ, ResetPJ float64
}

// Add returns the sum of two EnergyTotals.
func (e EnergyTotals) Add(o EnergyTotals) EnergyTotals {
	return EnergyTotals{RdPJ: e.RdPJ + o.RdPJ, SetPJ: e.SetPJ + o.SetPJ, ResetPJ: e.ResetPJ + o.ResetPJ}
}

// Target names which (rank, bank) a decoded request targets, plus the
// partition used by PLP pairing.
type Target struct {
	Rank      int
	Bank      int
	Partition int
}

// slot is one entry in a channel queue, holding a single request. A PLP
// master and its slave occupy two slots and leave together via removePair.
type slot struct {
	req *request.Request
}

// pending is a request that has been issued and is waiting for its service
// latency to elapse.
type pending struct {
	req    *request.Request
	endExe uint64
}

// base holds the state and behavior common to every controller variant:
// the bounded FIFO, the pending-completion list, the owned array channel,
// and decode-derived targeting.
type base struct {
	slots   []*slot
	pending []pending

	channel *array.Node
	geo     array.Geometry

	timings Timings

	clk uint64

	energyTotals EnergyTotals

	log *log.Logger
}

func newBase(channel *array.Node, geo array.Geometry, timings Timings, logger *log.Logger) base {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return base{channel: channel, geo: geo, timings: timings, log: logger}
}

// enqueue appends req as a new top-level slot, assigning it the next
// OrderID (spec §4.6 "a newly enqueued request receives OrderID equal to
// the current queue size").
func (b *base) enqueue(req *request.Request, clk uint64) bool {
	if len(b.slots) >= queueCapacity {
		return false
	}

	req.QueueArrival = clk
	req.OrderID = len(b.slots)
	b.slots = append(b.slots, &slot{req: req})

	return true
}

// removeAt splices out the slot at index i and ages every remaining queued
// request's OrderID down by one (spec §4.6's updateOrderIDs: a non-slave
// erase ages the whole queue, letting a request that is never selected fall
// arbitrarily far behind so it can eventually cross a negative THB).
func (b *base) removeAt(i int) {
	b.slots = append(b.slots[:i], b.slots[i+1:]...)

	for _, s := range b.slots {
		s.req.OrderID--
	}
}

// removePair splices out a master/slave pair atomically, then ages every
// remaining queued request's OrderID down by one. Spec §4.6 says an erased
// master ages the whole queue while an erased slave does not renumber on its
// own; since master and slave always leave together as a single scheduling
// decision, the combined removal ages the remaining queue exactly once.
func (b *base) removePair(i, j int) {
	if i > j {
		i, j = j, i
	}

	b.slots = append(b.slots[:j], b.slots[j+1:]...)
	b.slots = append(b.slots[:i], b.slots[i+1:]...)

	for _, s := range b.slots {
		s.req.OrderID--
	}
}

// PendingRequests implements Controller.
func (b *base) PendingRequests() int {
	return len(b.slots) + len(b.pending)
}

// addEnergy folds one issued access's read/set/reset bit-energy into the
// cumulative totals (SPEC_FULL.md's per-run energy accounting).
func (b *base) addEnergy(rdPJ, setPJ, resetPJ float64) {
	b.energyTotals.RdPJ += rdPJ
	b.energyTotals.SetPJ += setPJ
	b.energyTotals.ResetPJ += resetPJ
}

// Energy implements Controller.
func (b *base) Energy() EnergyTotals {
	return b.energyTotals
}

// completeReady finishes every pending request whose service latency has
// elapsed by clk, invoking its completion callback.
func (b *base) completeReady(clk uint64) {
	remaining := b.pending[:0]

	for _, p := range b.pending {
		if p.endExe > clk {
			remaining = append(remaining, p)
			continue
		}

		p.req.EndExec = clk

		if p.req.Complete != nil {
			p.req.Complete(clk)
		}
	}

	b.pending = remaining
}
