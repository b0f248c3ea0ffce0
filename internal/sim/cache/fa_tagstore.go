package cache

import "github.com/smoynes/hymem/internal/sim/request"

// FATagStore is a fully-associative LRU tag store. It holds an owned arena
// of blocks, a hash-accelerated tag->index map, and the faLRU replacement
// policy. Invariant: an entry exists in the map iff the corresponding block
// is valid (spec §3 "Tag store").
type FATagStore struct {
	blocks    []Block
	byTag     map[request.Word]int
	policy    *faLRU
	blockSize uint64
}

var _ TagStore = (*FATagStore)(nil)

// NewFATagStore creates a fully-associative tag store with numBlocks
// entries, each covering blockSize bytes.
func NewFATagStore(numBlocks int, blockSize uint64) *FATagStore {
	ts := &FATagStore{
		blocks:    make([]Block, numBlocks),
		byTag:     make(map[request.Word]int, numBlocks),
		blockSize: blockSize,
	}
	ts.policy = newFALRU(ts.blocks)

	return ts
}

func (ts *FATagStore) NumBlocks() int     { return len(ts.blocks) }
func (ts *FATagStore) BlockSize() uint64  { return ts.blockSize }
func (ts *FATagStore) ValidCount() int    { return len(ts.byTag) }

// AccessBlock implements TagStore.
func (ts *FATagStore) AccessBlock(addr request.Word, modify bool, clk uint64) (bool, request.Word) {
	aligned := Align(addr, ts.blockSize)

	idx, ok := ts.byTag[aligned]
	if !ok {
		return false, aligned
	}

	ts.policy.Upgrade(idx)
	ts.blocks[idx].LastTouch = clk

	if modify {
		ts.blocks[idx].Dirty = true
	}

	return true, aligned
}

// InsertBlock implements TagStore.
func (ts *FATagStore) InsertBlock(addr request.Word, modify bool, clk uint64) (bool, request.Word) {
	aligned := Align(addr, ts.blockSize)

	victimIdx := ts.policy.FindVictim()
	victim := &ts.blocks[victimIdx]

	wbRequired := victim.Valid && victim.Dirty

	var wbAddr request.Word
	if wbRequired {
		wbAddr = victim.Tag
	}

	if victim.Valid {
		delete(ts.byTag, victim.Tag)
	}

	victim.invalidate()

	victim.Tag = aligned
	victim.Valid = true
	victim.Dirty = modify
	victim.LastTouch = clk

	ts.byTag[aligned] = victimIdx
	ts.policy.Upgrade(victimIdx)

	return wbRequired, wbAddr
}

// PeekVictim implements TagStore. addr is unused: like InsertBlock, victim
// selection for a fully-associative store never depends on the address
// being inserted.
func (ts *FATagStore) PeekVictim(request.Word) (bool, request.Word) {
	victim := &ts.blocks[ts.policy.FindVictim()]

	return victim.Valid && victim.Dirty, victim.Tag
}

// ReInitialise implements TagStore.
func (ts *FATagStore) ReInitialise() {
	for i := range ts.blocks {
		ts.blocks[i] = Block{}
	}

	ts.byTag = make(map[request.Word]int, len(ts.blocks))
	ts.policy = newFALRU(ts.blocks)
}

// Invalidate clears addr's block, if present. Invalidating an address that
// is not resident is a no-op.
func (ts *FATagStore) Invalidate(addr request.Word) {
	aligned := Align(addr, ts.blockSize)

	idx, ok := ts.byTag[aligned]
	if !ok {
		return
	}

	ts.blocks[idx].invalidate()
	delete(ts.byTag, aligned)
	ts.policy.Downgrade(idx)
}
