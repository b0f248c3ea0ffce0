package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/request"
)

// TestBase_RemoveAtAgesRemainingQueue exercises spec §4.6's updateOrderIDs:
// issuing one request ages every request still in the queue down by one,
// rather than resyncing OrderID back to array position. A request that is
// never itself selected must be able to fall arbitrarily far behind, going
// negative, so a negative THB starvation guard can ever trigger.
func TestBase_RemoveAtAgesRemainingQueue(tt *testing.T) {
	tt.Parallel()

	b := newBase(array.New(array.Geometry{Channels: 1, Ranks: 1, Banks: 1}).Channel(0), array.Geometry{Channels: 1, Ranks: 1, Banks: 1}, Timings{}, nil)

	reqs := make([]*request.Request, 4)
	for i := range reqs {
		reqs[i] = &request.Request{Addr: request.Word(i)}
		require.True(tt, b.enqueue(reqs[i], uint64(i)))
	}

	assert.EqualValues(tt, 3, reqs[3].OrderID)

	// Issue the head three times over: each issue ages every survivor down
	// by one, regardless of where in the queue the issued request sat.
	b.removeAt(0) // removes reqs[0]; reqs[1..3] age by one
	b.removeAt(0) // removes reqs[1]; reqs[2..3] age by one
	b.removeAt(0) // removes reqs[2]; reqs[3] ages by one

	assert.EqualValues(tt, 0, reqs[3].OrderID, "three issues elsewhere age the survivor down from its initial 3")

	other := &request.Request{Addr: 42}
	require.True(tt, b.enqueue(other, 4))
	b.removeAt(1) // removes `other`; reqs[3] ages again, past zero

	assert.EqualValues(tt, -1, reqs[3].OrderID, "OrderID must go negative; nothing resyncs it to a dense array index")
}

// TestBase_RemovePairAgesRemainingQueueOnce confirms a paired master/slave
// erase ages the rest of the queue exactly once, not once per request
// removed.
func TestBase_RemovePairAgesRemainingQueueOnce(tt *testing.T) {
	tt.Parallel()

	b := newBase(array.New(array.Geometry{Channels: 1, Ranks: 1, Banks: 1}).Channel(0), array.Geometry{Channels: 1, Ranks: 1, Banks: 1}, Timings{}, nil)

	reqs := make([]*request.Request, 4)
	for i := range reqs {
		reqs[i] = &request.Request{Addr: request.Word(i)}
		require.True(tt, b.enqueue(reqs[i], uint64(i)))
	}

	b.removePair(0, 1)

	require.Len(tt, b.slots, 2)
	assert.EqualValues(tt, 1, reqs[2].OrderID)
	assert.EqualValues(tt, 2, reqs[3].OrderID)
}
