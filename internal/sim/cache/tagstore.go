package cache

import "github.com/smoynes/hymem/internal/sim/request"

// TagStore is the capability set every tag-store variant implements (spec
// §9 "Polymorphic cache/tag/policy"). A Cache dispatches through this
// interface alone; it never knows which concrete variant (fully
// associative or set associative) it holds.
type TagStore interface {
	// AccessBlock looks up addr. If hit, the block is promoted by the
	// replacement policy and, if modify is set, marked dirty. alignedAddr
	// is the block-aligned address backing the lookup.
	AccessBlock(addr request.Word, modify bool, clk uint64) (hit bool, alignedAddr request.Word)

	// InsertBlock allocates a block for addr, evicting a victim chosen by
	// the replacement policy if necessary. wbRequired is true iff the
	// victim was valid and dirty, in which case wbAddr is its address.
	InsertBlock(addr request.Word, modify bool, clk uint64) (wbRequired bool, wbAddr request.Word)

	// PeekVictim reports, without mutating any state, whether inserting
	// addr right now would require a write-back and, if so, the victim's
	// address. A caller with no room to hold that write-back can defer
	// the insert entirely instead of committing it and discovering the
	// problem only after a block has already been evicted.
	PeekVictim(addr request.Word) (wbRequired bool, wbAddr request.Word)

	// ReInitialise resets the tag store to its just-constructed state.
	ReInitialise()

	// NumBlocks returns the tag store's total block capacity.
	NumBlocks() int

	// ValidCount returns the number of currently valid blocks. Used by
	// the §8 invariant checks.
	ValidCount() int

	// BlockSize returns the aligned block size, in bytes.
	BlockSize() uint64
}

// Align masks addr down to its block boundary.
func Align(addr request.Word, blockSize uint64) request.Word {
	mask := ^(request.Word(blockSize) - 1)
	return addr & mask
}
