package cache

import "github.com/smoynes/hymem/internal/sim/request"

// Block is one cache line's tag-store state (spec §3 "Cache block").
//
// prev/next form the MRU->LRU chain for fully-associative variants; they
// are indices into the tag store's block arena rather than pointers, per
// the re-architecture in spec §9 ("Cyclic pointers in FA LRU").
type Block struct {
	Tag        request.Word
	Valid      bool
	Dirty      bool
	LastTouch  uint64
	WhenTouch  uint64 // set-associative "when_touched" for LRU comparison
	prev, next int     // -1 means "no link"
}

const noLink = -1

// invalidate clears a block back to its reset state. Invalidating an
// already-invalid block is a no-op on the fields that matter (Dirty is
// cleared unconditionally, which is idempotent).
func (b *Block) invalidate() {
	b.Valid = false
	b.Dirty = false
}
