// Package memsys implements the memory system of spec §4.8: a vector of
// per-channel controllers addressed by decoding the request's channel
// field, plus the hybrid DRAM+PCM dual-controller mode described in
// SPEC_FULL.md.
package memsys

import (
	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/controller"
	"github.com/smoynes/hymem/internal/sim/request"
)

// MemorySystem owns one controller per channel and routes by the decoded
// channel field of a request's address.
type MemorySystem struct {
	decoder     *array.Decoder
	controllers []controller.Controller
}

// New builds a MemorySystem over the given per-channel controllers,
// indexed by channel id.
func New(decoder *array.Decoder, controllers []controller.Controller) *MemorySystem {
	return &MemorySystem{decoder: decoder, controllers: controllers}
}

// Send decodes req.Addr, extracts the channel field, and forwards to that
// channel's Enqueue. It returns false iff the channel's queue is full.
func (m *MemorySystem) Send(req *request.Request, clk uint64) bool {
	dec := m.decoder.Decode(uint64(req.Addr))
	if dec.Channel < 0 || dec.Channel >= len(m.controllers) {
		return false
	}

	return m.controllers[dec.Channel].Enqueue(req, clk)
}

// Tick advances every owned controller by one cycle.
func (m *MemorySystem) Tick(clk uint64) {
	for _, c := range m.controllers {
		c.Tick(clk)
	}
}

// PendingRequests sums the pending count across every channel.
func (m *MemorySystem) PendingRequests() int {
	n := 0
	for _, c := range m.controllers {
		n += c.PendingRequests()
	}

	return n
}

// Energy sums cumulative read/set/reset energy across every channel.
func (m *MemorySystem) Energy() controller.EnergyTotals {
	var total controller.EnergyTotals
	for _, c := range m.controllers {
		total = total.Add(c.Energy())
	}

	return total
}

// HybridSplit selects which underlying MemorySystem a hybrid configuration
// routes a request to, by address range.
type HybridSplit struct {
	// DRAMLimit is the first address not covered by the DRAM side; any
	// address below it routes to DRAM, the rest to PCM.
	DRAMLimit uint64
}

// Hybrid pairs a DRAM-side and a PCM-side MemorySystem under a single
// address-range split (the run command builds one when given two
// configuration files; `mem_controller_type = Hybrid` is not a recognised
// controller type). Every request, LLC write-backs included, goes to the
// side whose address range covers it.
type Hybrid struct {
	split HybridSplit
	dram  *MemorySystem
	pcm   *MemorySystem
}

// NewHybrid builds a dual-technology memory system.
func NewHybrid(split HybridSplit, dram, pcm *MemorySystem) *Hybrid {
	return &Hybrid{split: split, dram: dram, pcm: pcm}
}

func (h *Hybrid) route(addr request.Word) *MemorySystem {
	if uint64(addr) < h.split.DRAMLimit {
		return h.dram
	}

	return h.pcm
}

// Send routes req to whichever technology's address range covers it.
func (h *Hybrid) Send(req *request.Request, clk uint64) bool {
	return h.route(req.Addr).Send(req, clk)
}

// Tick advances both underlying memory systems.
func (h *Hybrid) Tick(clk uint64) {
	h.dram.Tick(clk)
	h.pcm.Tick(clk)
}

// PendingRequests sums both underlying memory systems' pending counts.
func (h *Hybrid) PendingRequests() int {
	return h.dram.PendingRequests() + h.pcm.PendingRequests()
}

// Energy sums both underlying memory systems' cumulative energy.
func (h *Hybrid) Energy() controller.EnergyTotals {
	return h.dram.Energy().Add(h.pcm.Energy())
}
