package array

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_RoundTrip(tt *testing.T) {
	tt.Parallel()

	widths := Widths{
		FieldRank:      2,
		FieldPartition: 2,
		FieldTile:      1,
		FieldRow:       10,
		FieldCol:       5,
		FieldBank:      3,
		FieldChannel:   1,
		FieldCacheLine: 6,
	}

	dec := NewDecoder(widths)

	tcs := []struct {
		name string
		addr uint64
	}{
		{"zero", 0},
		{"all ones in range", (uint64(1) << 30) - 1},
		{"mixed", 0x1_2345},
	}

	for _, tc := range tcs {
		tc := tc

		tt.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := dec.Decode(tc.addr)
			got := dec.Compose(d)

			assert.Equal(t, tc.addr&((uint64(1)<<30)-1), got)
		})
	}
}

func TestDecoder_FieldOrder(tt *testing.T) {
	// CacheLine occupies the least-significant bits; Rank the most
	// significant, per spec §4.1.
	widths := Widths{
		FieldRank:      1,
		FieldPartition: 1,
		FieldTile:      1,
		FieldRow:       1,
		FieldCol:       1,
		FieldBank:      1,
		FieldChannel:   1,
		FieldCacheLine: 1,
	}

	dec := NewDecoder(widths)

	d := dec.Decode(0b0000_0001) // low bit set
	require.Equal(tt, 1, d.CacheLine)
	require.Equal(tt, 0, d.Rank)

	d = dec.Decode(0b1000_0000) // high bit set
	require.Equal(tt, 1, d.Rank)
	require.Equal(tt, 0, d.CacheLine)
}

func TestArray_Availability(tt *testing.T) {
	tt.Parallel()

	root := New(Geometry{Channels: 1, Ranks: 2, Banks: 2})
	ch := root.Channel(0)

	ch.Update(0)
	assert.True(tt, ch.IsFree(0, 0))

	const chLat, rankLat, bankLat = 2, 3, 10

	ch.PostAccess(0, 0, chLat, rankLat, bankLat)

	max := uint64(bankLat)
	if chLat > max {
		max = chLat
	}

	for clk := uint64(0); clk < max; clk++ {
		ch.Update(clk)
		assert.Falsef(tt, ch.IsFree(0, 0), "expected busy at clk=%d", clk)
	}

	ch.Update(max)
	assert.True(tt, ch.IsFree(0, 0))

	// Another rank on the same channel is blocked for rankLat by the
	// access to rank 0.
	ch.Update(0)
	assert.False(tt, ch.IsFree(1, 0))
	ch.Update(rankLat)
	assert.True(tt, ch.IsFree(1, 0))
}
