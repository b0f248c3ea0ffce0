package cache

import "github.com/smoynes/hymem/internal/sim/request"

// SetAssocTagStore is a set-associative LRU tag store. Victim selection
// within a set prefers an invalid way, then the way with the smallest
// WhenTouch, ties broken by lowest way index (spec §4.3).
type SetAssocTagStore struct {
	blocks    []Block
	policy    *setLRU
	numSets   int
	assoc     int
	blockSize uint64
	setMask   request.Word
}

var _ TagStore = (*SetAssocTagStore)(nil)

// NewSetAssocTagStore creates a set-associative tag store. numSets must be
// a power of two.
func NewSetAssocTagStore(numSets, assoc int, blockSize uint64) *SetAssocTagStore {
	ts := &SetAssocTagStore{
		blocks:    make([]Block, numSets*assoc),
		numSets:   numSets,
		assoc:     assoc,
		blockSize: blockSize,
		setMask:   request.Word(numSets - 1),
	}
	ts.policy = newSetLRU(ts.blocks, assoc)

	return ts
}

func (ts *SetAssocTagStore) NumBlocks() int    { return len(ts.blocks) }
func (ts *SetAssocTagStore) BlockSize() uint64 { return ts.blockSize }

func (ts *SetAssocTagStore) ValidCount() int {
	count := 0

	for i := range ts.blocks {
		if ts.blocks[i].Valid {
			count++
		}
	}

	return count
}

// setIndexOf returns the set index and tag for an aligned address: the set
// index is derived from the bits directly above the block offset, and the
// tag stored in Block.Tag is the whole aligned address, so an evicted
// block's write-back address is its Tag.
func (ts *SetAssocTagStore) setIndexOf(aligned request.Word) (set int, tag request.Word) {
	blockNum := aligned / request.Word(ts.blockSize)
	set = int(blockNum & ts.setMask)
	tag = aligned

	return set, tag
}

func (ts *SetAssocTagStore) wayBase(set int) int {
	return set * ts.assoc
}

// AccessBlock implements TagStore.
func (ts *SetAssocTagStore) AccessBlock(addr request.Word, modify bool, clk uint64) (bool, request.Word) {
	aligned := Align(addr, ts.blockSize)
	set, tag := ts.setIndexOf(aligned)
	base := ts.wayBase(set)

	for w := 0; w < ts.assoc; w++ {
		idx := base + w
		b := &ts.blocks[idx]

		if b.Valid && b.Tag == tag {
			b.WhenTouch = clk
			b.LastTouch = clk

			if modify {
				b.Dirty = true
			}

			return true, aligned
		}
	}

	return false, aligned
}

// InsertBlock implements TagStore.
func (ts *SetAssocTagStore) InsertBlock(addr request.Word, modify bool, clk uint64) (bool, request.Word) {
	aligned := Align(addr, ts.blockSize)
	set, tag := ts.setIndexOf(aligned)
	base := ts.wayBase(set)

	victimIdx := ts.policy.findVictim(base)
	victim := &ts.blocks[victimIdx]

	wbRequired := victim.Valid && victim.Dirty

	var wbAddr request.Word
	if wbRequired {
		wbAddr = victim.Tag
	}

	victim.invalidate()

	victim.Tag = tag
	victim.Valid = true
	victim.Dirty = modify
	victim.LastTouch = clk
	victim.WhenTouch = clk

	return wbRequired, wbAddr
}

// PeekVictim implements TagStore.
func (ts *SetAssocTagStore) PeekVictim(addr request.Word) (bool, request.Word) {
	aligned := Align(addr, ts.blockSize)
	set, _ := ts.setIndexOf(aligned)
	base := ts.wayBase(set)

	victim := &ts.blocks[ts.policy.findVictim(base)]

	return victim.Valid && victim.Dirty, victim.Tag
}

// ReInitialise implements TagStore.
func (ts *SetAssocTagStore) ReInitialise() {
	for i := range ts.blocks {
		ts.blocks[i] = Block{}
	}

	ts.policy = newSetLRU(ts.blocks, ts.assoc)
}

// Invalidate clears addr's block, if resident.
func (ts *SetAssocTagStore) Invalidate(addr request.Word) {
	aligned := Align(addr, ts.blockSize)
	set, tag := ts.setIndexOf(aligned)
	base := ts.wayBase(set)

	for w := 0; w < ts.assoc; w++ {
		idx := base + w
		if ts.blocks[idx].Valid && ts.blocks[idx].Tag == tag {
			ts.blocks[idx].invalidate()
			return
		}
	}
}
