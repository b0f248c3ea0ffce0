package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/request"
)

// geo2x2 is a minimal two-rank, two-bank, single-channel array; tests decode
// addresses with a trivial scheme instead of a full Decoder.
func newChannelAndDecode() (*array.Node, func(request.Word) Target) {
	geo := array.Geometry{Channels: 1, Ranks: 2, Banks: 2}
	root := array.New(geo)
	channel := root.Channel(0)

	// bits [0:1) = partition, [1:2) = bank, [2:3) = rank, rest ignored.
	decode := func(addr request.Word) Target {
		a := uint64(addr)
		return Target{
			Partition: int(a & 0x1),
			Bank:      int((a >> 1) & 0x1),
			Rank:      int((a >> 2) & 0x1),
		}
	}

	return channel, decode
}

var plpTimings = Timings{TRCD: 2, TData: 1, TWL: 1, TWR: 1, TCL: 2}

// TestPLP_RRPairing is seed scenario 3 of spec §8: two reads to the same
// (channel, rank, bank), different partitions, arriving on consecutive
// ticks, rr_enabled, power_limit disabled. Expect them scheduled together
// with the paired latency, leaving the queue in the same tick.
func TestPLP_RRPairing(tt *testing.T) {
	tt.Parallel()

	channel, decode := newChannelAndDecode()
	c := NewPLPController(channel, array.Geometry{Channels: 1, Ranks: 2, Banks: 2}, plpTimings, PALP, decode, -1<<20, 0, false, false, Energy{PjBitRd: 1}, nil)

	var done1, done2 bool

	req1 := &request.Request{Addr: 0x000, Kind: request.Read, Complete: func(uint64) bool { done1 = true; return true }} // rank0 bank0 part0
	req2 := &request.Request{Addr: 0x001, Kind: request.Read, Complete: func(uint64) bool { done2 = true; return true }} // rank0 bank0 part1

	require.True(tt, c.Enqueue(req1, 0))
	require.True(tt, c.Enqueue(req2, 1))

	c.Tick(2)

	assert.Equal(tt, 0, len(c.slots), "both paired requests leave the queue in the same tick")
	assert.Equal(tt, uint64(2), req1.BeginExec)
	assert.Equal(tt, req1.BeginExec, req2.BeginExec)

	// advance past completion
	c.Tick(2 + plpTimings.PairedRRLatency())
	assert.True(tt, done1)
	assert.True(tt, done2)
	assert.Equal(tt, plpTimings.PairedRRLatency(), req1.EndExec-req1.BeginExec)
	assert.Equal(tt, req1.EndExec, req2.EndExec)
}

// TestPLP_Starvation is seed scenario 4 of spec §8: THB = -8, the oldest
// READ's OrderID is backlogged below threshold; expect it issued on the
// next tick its bank is free regardless of pairing opportunity.
func TestPLP_Starvation(tt *testing.T) {
	tt.Parallel()

	channel, decode := newChannelAndDecode()
	c := NewPLPController(channel, array.Geometry{Channels: 1, Ranks: 2, Banks: 2}, plpTimings, PALP, decode, -8, 0, false, true, Energy{}, nil)

	req := &request.Request{Addr: 0x000, Kind: request.Read, Complete: func(uint64) bool { return true }}
	require.True(tt, c.Enqueue(req, 0))

	req.OrderID = -8

	c.Tick(1)

	assert.Equal(tt, 0, len(c.slots), "backlogged request issues alone once its bank is free")
	assert.Equal(tt, uint64(1), req.BeginExec)
}

// TestPLP_OrderIDAgesAfterPairIssue checks that issuing a pair ages the
// requests left in the queue down by one, rather than resyncing OrderID to
// array position (spec §4.6's updateOrderIDs; see also
// TestBase_RemovePairAgesRemainingQueueOnce).
func TestPLP_OrderIDAgesAfterPairIssue(tt *testing.T) {
	tt.Parallel()

	channel, decode := newChannelAndDecode()
	c := NewPLPController(channel, array.Geometry{Channels: 1, Ranks: 2, Banks: 2}, plpTimings, PALP, decode, -1<<20, 0, false, false, Energy{}, nil)

	reqs := []*request.Request{
		{Addr: 0x000, Kind: request.Read, Complete: func(uint64) bool { return true }}, // rank0 bank0 part0 (master)
		{Addr: 0x004, Kind: request.Read, Complete: func(uint64) bool { return true }}, // rank1 bank0 part0 (unrelated bank)
		{Addr: 0x001, Kind: request.Read, Complete: func(uint64) bool { return true }}, // rank0 bank0 part1 (slave)
		{Addr: 0x006, Kind: request.Read, Complete: func(uint64) bool { return true }}, // rank1 bank1 part0 (unrelated)
	}

	for i, r := range reqs {
		require.True(tt, c.Enqueue(r, uint64(i)))
	}

	assert.EqualValues(tt, 1, reqs[1].OrderID)
	assert.EqualValues(tt, 3, reqs[3].OrderID)

	c.Tick(4)

	require.Equal(tt, 2, len(c.slots), "the rank0/bank0 pair (master+slave) issues together")
	assert.EqualValues(tt, 0, reqs[1].OrderID, "the pair's removal ages the survivors down by one, once")
	assert.EqualValues(tt, 2, reqs[3].OrderID)
}

// TestPLP_RWPairing exercises R||W pairing in PALPR (no R||R).
func TestPLP_RWPairing(tt *testing.T) {
	tt.Parallel()

	channel, decode := newChannelAndDecode()
	c := NewPLPController(channel, array.Geometry{Channels: 1, Ranks: 2, Banks: 2}, plpTimings, PALPR, decode, -1<<20, 0, false, false, Energy{}, nil)

	req1 := &request.Request{Addr: 0x000, Kind: request.Read, Complete: func(uint64) bool { return true }}  // rank0 bank0 part0
	req2 := &request.Request{Addr: 0x003, Kind: request.Write, Complete: func(uint64) bool { return true }} // rank0 bank1 part1, different bank: no pairing
	req3 := &request.Request{Addr: 0x001, Kind: request.Write, Complete: func(uint64) bool { return true }} // rank0 bank0 part1: pairs with req1

	require.True(tt, c.Enqueue(req1, 0))
	require.True(tt, c.Enqueue(req2, 0))
	require.True(tt, c.Enqueue(req3, 0))

	c.Tick(1)

	require.Equal(tt, 1, len(c.slots), "req2 (different bank) remains; req1/req3 paired and issued")
	assert.Equal(tt, req2.Addr, c.slots[0].req.Addr)

	c.Tick(1 + plpTimings.PairedRWLatency())
	assert.Equal(tt, plpTimings.PairedRWLatency(), req1.EndExec-req1.BeginExec)
}

// TestPLP_PowerLimitRejectsPairing confirms that a pairing candidate is
// rejected once the projected power would reach RAPL, falling back to a
// solo issue.
func TestPLP_PowerLimitRejectsPairing(tt *testing.T) {
	tt.Parallel()

	channel, decode := newChannelAndDecode()
	c := NewPLPController(channel, array.Geometry{Channels: 1, Ranks: 2, Banks: 2}, plpTimings, PALP, decode, -1<<20, 0, true, false, Energy{PjBitRd: 1000}, nil)

	req1 := &request.Request{Addr: 0x000, Kind: request.Read, Complete: func(uint64) bool { return true }}
	req2 := &request.Request{Addr: 0x001, Kind: request.Read, Complete: func(uint64) bool { return true }}

	require.True(tt, c.Enqueue(req1, 0))
	require.True(tt, c.Enqueue(req2, 0))

	c.Tick(1)

	require.Equal(tt, 1, len(c.slots), "pairing rejected by the power limit; only one request issues")

	c.Tick(1 + plpTimings.SingleReadLatency())
	assert.Equal(tt, plpTimings.SingleReadLatency(), req1.EndExec-req1.BeginExec)
}
