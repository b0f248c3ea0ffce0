package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/hymem/internal/sim/request"
)

func TestQueue_AllocateCoalesces(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(2)

	hit, err := q.Allocate(0x100, 10)
	require.NoError(tt, err)
	assert.False(tt, hit)

	hit, err = q.Allocate(0x100, 20)
	require.NoError(tt, err)
	assert.True(tt, hit, "second allocate of same address should coalesce")

	assert.Equal(tt, 1, q.Len())
}

func TestQueue_CapacityExceeded(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(1)

	_, err := q.Allocate(0x100, 0)
	require.NoError(tt, err)

	_, err = q.Allocate(0x200, 0)
	require.Error(tt, err)
	assert.True(tt, errors.Is(err, ErrCapacityExceeded))
}

func TestQueue_GetReadyEntry_InsertionOrder(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(4)

	_, _ = q.Allocate(0x200, 5)
	_, _ = q.Allocate(0x100, 5)

	ok, addr := q.GetReadyEntry(10)
	require.True(tt, ok)
	assert.Equal(tt, request.Word(0x200), addr, "insertion order wins over address order")
}

func TestQueue_GetReadyEntry_SkipsInFlight(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(4)

	_, _ = q.Allocate(0x100, 0)
	q.EntryOnBoard(0x100)
	_, _ = q.Allocate(0x200, 0)

	ok, addr := q.GetReadyEntry(10)
	require.True(tt, ok)
	assert.Equal(tt, request.Word(0x200), addr)
}

func TestQueue_GetReadyEntry_NoneReady(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(4)
	_, _ = q.Allocate(0x100, 100)

	ok, _ := q.GetReadyEntry(10)
	assert.False(tt, ok)
}

func TestQueue_DeAllocate(tt *testing.T) {
	tt.Parallel()

	q := NewQueue(4)
	_, _ = q.Allocate(0x100, 0)
	q.DeAllocate(0x100)

	assert.False(tt, q.IsInQueue(0x100))
	assert.Equal(tt, 0, q.Len())
}
