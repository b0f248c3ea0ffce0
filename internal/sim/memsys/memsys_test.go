package memsys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/controller"
	"github.com/smoynes/hymem/internal/sim/request"
)

func newDecoder() *array.Decoder {
	var w array.Widths
	w[array.FieldChannel] = 1
	w[array.FieldCacheLine] = 6

	return array.NewDecoder(w)
}

var fcfsTimings = controller.Timings{TRCD: 2, TData: 1, TWL: 1, TWR: 1, TCL: 2}

func newController(geo array.Geometry) controller.Controller {
	root := array.New(geo)

	decode := func(addr request.Word) controller.Target {
		return controller.Target{}
	}

	return controller.NewFCFSController(root.Channel(0), geo, fcfsTimings, controller.FCFS, decode, controller.Energy{}, nil)
}

func TestMemorySystem_RoutesByChannel(tt *testing.T) {
	tt.Parallel()

	geo := array.Geometry{Channels: 1, Ranks: 1, Banks: 1}
	ctrl0 := newController(geo)
	ctrl1 := newController(geo)

	ms := New(newDecoder(), []controller.Controller{ctrl0, ctrl1})

	req0 := &request.Request{Addr: 0x000, Kind: request.Read} // channel 0
	req1 := &request.Request{Addr: 0x040, Kind: request.Read} // channel 1 (bit 6 set)

	assert.True(tt, ms.Send(req0, 0))
	assert.True(tt, ms.Send(req1, 0))

	assert.Equal(tt, 2, ms.PendingRequests())
}

func TestMemorySystem_FullChannelRejects(tt *testing.T) {
	tt.Parallel()

	geo := array.Geometry{Channels: 1, Ranks: 1, Banks: 1}
	ctrl0 := newController(geo)
	ms := New(newDecoder(), []controller.Controller{ctrl0})

	for i := 0; i < 64; i++ {
		req := &request.Request{Addr: request.Word(i), Kind: request.Read} // stays below the channel bit (bit 6)
		require.True(tt, ms.Send(req, 0))
	}

	overflow := &request.Request{Addr: 0x1000, Kind: request.Read}
	assert.False(tt, ms.Send(overflow, 0), "the channel's queue is at capacity")
}

func TestHybrid_RoutesByAddressRange(tt *testing.T) {
	tt.Parallel()

	geo := array.Geometry{Channels: 1, Ranks: 1, Banks: 1}
	dram := New(newDecoder(), []controller.Controller{newController(geo)})
	pcm := New(newDecoder(), []controller.Controller{newController(geo)})

	h := NewHybrid(HybridSplit{DRAMLimit: 0x10000}, dram, pcm)

	dramReq := &request.Request{Addr: 0x100, Kind: request.Read}
	pcmReq := &request.Request{Addr: 0x20000, Kind: request.Read}

	assert.True(tt, h.Send(dramReq, 0))
	assert.True(tt, h.Send(pcmReq, 0))

	assert.Equal(tt, 2, h.PendingRequests())
}
