// Package priority implements the next-use priority index the Placer
// uses to pick an eviction victim under Belady's rule (spec §4.5): an
// ordered multimap keyed by next-use instruction number supporting
// O(log n) insert, update-by-payload, extract-max, and remove-by-payload.
//
// The ordered side is a github.com/google/btree tree (the same ordered
// multimap structure moby-moby's scheduler pulls in); the payload side is
// a plain map from slot to the tree item currently representing it, the
// "parallel direct map from slot -> current key" spec §4.5 calls for.
package priority

import "github.com/google/btree"

// btreeDegree controls the branching factor of the underlying tree; 32
// is the degree google/btree's own documentation uses as a reasonable
// default for in-memory workloads of this size.
const btreeDegree = 32

// entry is one (next-use key, physical slot) pair living in the tree.
// Ties are broken by slot, ascending, so eviction order is deterministic
// for any given sequence of operations (spec §4.3 "Tie-breaking").
type entry struct {
	key  uint64
	slot int32
}

func (e entry) Less(than btree.Item) bool {
	o := than.(entry)
	if e.key != o.key {
		return e.key < o.key
	}
	return e.slot < o.slot
}

// Index is the Belady eviction priority structure backing one Placer
// run. It is not safe for concurrent use; the Placer that owns it is
// itself single-threaded (spec §5).
type Index struct {
	tree   *btree.BTree
	bySlot map[int32]entry
}

// New returns an empty priority index.
func New() *Index {
	return &Index{tree: btree.New(btreeDegree), bySlot: make(map[int32]entry)}
}

// Len returns the number of resident pages currently tracked.
func (idx *Index) Len() int {
	return idx.tree.Len()
}

// Insert records that slot's page next used at instruction key. slot
// must not already be tracked; use Update to change an existing entry.
func (idx *Index) Insert(slot int32, key uint64) {
	e := entry{key: key, slot: slot}
	idx.tree.ReplaceOrInsert(e)
	idx.bySlot[slot] = e
}

// Update changes the next-use key for an already-tracked slot.
func (idx *Index) Update(slot int32, key uint64) {
	if old, ok := idx.bySlot[slot]; ok {
		idx.tree.Delete(old)
	}
	e := entry{key: key, slot: slot}
	idx.tree.ReplaceOrInsert(e)
	idx.bySlot[slot] = e
}

// Remove drops slot from the index entirely. A no-op if slot isn't
// tracked. Used when a resident page's priority entry must not outlive
// its final use (spec §4.3 step 4, "the priority index must not retain
// stale entries").
func (idx *Index) Remove(slot int32) {
	old, ok := idx.bySlot[slot]
	if !ok {
		return
	}
	idx.tree.Delete(old)
	delete(idx.bySlot, slot)
}

// ExtractMax removes and returns the tracked slot with the largest
// next-use key — Belady's eviction victim, since the sentinel ordering
// (Never > LiveOutput > any real instruction number) makes "largest
// key" exactly "farthest in the future, with truly dead pages ranked
// ahead of live outputs" (spec §4.3). ok is false if the index is empty.
func (idx *Index) ExtractMax() (slot int32, key uint64, ok bool) {
	item := idx.tree.Max()
	if item == nil {
		return 0, 0, false
	}
	e := item.(entry)
	idx.tree.Delete(e)
	delete(idx.bySlot, e.slot)
	return e.slot, e.key, true
}

// KeyOf returns the currently-tracked next-use key for slot.
func (idx *Index) KeyOf(slot int32) (key uint64, ok bool) {
	e, ok := idx.bySlot[slot]
	return e.key, ok
}
