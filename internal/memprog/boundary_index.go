package memprog

import "math"

// boundaryIndex maps an instruction index to the byte offset at which that
// instruction starts in the decoded stream, for ForEachReverse's backward
// walk: instructions are variable length, so visiting them last-to-first
// needs to know where each one began, and that can only be learned by a
// prior forward pass (spec §4.2, Reverse Annotator).
//
// The offsets recorded are the forward pass's running byte position, so
// they're monotonically increasing by construction; instruction N+1 starts
// where instruction N ended, never farther than a handful of instructions'
// worth of encoded bytes away. That makes a frame-of-reference-plus-delta
// layout — first offset stored in full, every later one as a delta from its
// predecessor in whatever fixed width bounds the largest gap — far smaller
// than one uint64 per instruction, at the cost of a running sum to recover
// Index(i) for i > 0.
//
// See https://lemire.me/blog/2012/02/08/effective-compression-using-frame-of-reference-and-delta-coding/
type boundaryIndex interface {
	// Index returns the byte offset at which instruction i starts.
	Index(i int) uint64
	// Len returns the number of offsets held (instruction count + 1, the
	// extra entry being the stream's final end offset).
	Len() int
}

// newBoundaryIndex builds the most compact boundaryIndex that fits offsets,
// picking the delta width from the largest gap between consecutive entries.
func newBoundaryIndex(offsets []uint64) boundaryIndex {
	if len(offsets) == 0 {
		return emptyBoundaryIndex{}
	}
	if len(offsets) <= smallBoundaryIndexCapacity {
		return newSmallBoundaryIndex(offsets)
	}

	var maxGap uint64
	prev := offsets[0]
	for _, off := range offsets[1:] {
		if gap := off - prev; gap > maxGap {
			maxGap = gap
		}
		prev = off
	}

	switch {
	case maxGap > math.MaxUint32:
		return newWideBoundaryIndex(offsets)
	case maxGap > math.MaxUint16:
		return newDeltaBoundaryIndex[uint32](offsets)
	case maxGap > math.MaxUint8:
		return newDeltaBoundaryIndex[uint16](offsets)
	default:
		return newDeltaBoundaryIndex[uint8](offsets)
	}
}

// wideBoundaryIndex stores offsets with no compression, for streams whose
// per-instruction byte gap exceeds a 32-bit delta (encoded constants of
// near-max width, in practice).
type wideBoundaryIndex struct {
	offsets []uint64
}

func newWideBoundaryIndex(offsets []uint64) *wideBoundaryIndex {
	a := &wideBoundaryIndex{offsets: make([]uint64, len(offsets))}
	copy(a.offsets, offsets)
	return a
}

func (a *wideBoundaryIndex) Index(i int) uint64 { return a.offsets[i] }
func (a *wideBoundaryIndex) Len() int            { return len(a.offsets) }

type emptyBoundaryIndex struct{}

func (emptyBoundaryIndex) Index(int) uint64 { panic("memprog: boundary index out of range") }
func (emptyBoundaryIndex) Len() int         { return 0 }

// smallBoundaryIndexCapacity bounds the inline array below which delta
// compression isn't worth the running-sum cost: short instruction streams
// just keep their offsets flat.
const smallBoundaryIndexCapacity = 7

type smallBoundaryIndex struct {
	length  int
	offsets [smallBoundaryIndexCapacity]uint64
}

func newSmallBoundaryIndex(offsets []uint64) *smallBoundaryIndex {
	a := &smallBoundaryIndex{length: len(offsets)}
	copy(a.offsets[:], offsets)
	return a
}

func (a *smallBoundaryIndex) Index(i int) uint64 {
	if i < 0 || i >= a.length {
		panic("memprog: boundary index out of range")
	}
	return a.offsets[i]
}

func (a *smallBoundaryIndex) Len() int { return a.length }

type deltaWidth interface {
	uint8 | uint16 | uint32
}

// deltaBoundaryIndex is the common case: a frame-of-reference base offset
// plus a run of fixed-width deltas, recovered by prefix sum.
type deltaBoundaryIndex[T deltaWidth] struct {
	base   uint64
	deltas []T
}

func newDeltaBoundaryIndex[T deltaWidth](offsets []uint64) *deltaBoundaryIndex[T] {
	a := &deltaBoundaryIndex[T]{
		base:   offsets[0],
		deltas: make([]T, len(offsets)-1),
	}
	prev := offsets[0]
	for i, off := range offsets[1:] {
		a.deltas[i] = T(off - prev)
		prev = off
	}
	return a
}

func (a *deltaBoundaryIndex[T]) Index(i int) uint64 {
	if i < 0 || i >= a.Len() {
		panic("memprog: boundary index out of range")
	}
	off := a.base
	// A per-call prefix sum keeps ForEachReverse's random access simple;
	// each call re-sums the first i deltas, so a full backward walk costs
	// time quadratic in the instruction count.
	for _, d := range a.deltas[:i] {
		off += uint64(d)
	}
	return off
}

func (a *deltaBoundaryIndex[T]) Len() int { return len(a.deltas) + 1 }
