// Package vaddr implements the virtual-address allocator described in
// spec §4.4: a monotonic bump pointer for fresh allocations, backed by
// per-width free-list bins that the Program Builder's recycler pushes
// onto and drains from first. The allocator is single-threaded, matching
// the Builder's exclusive-ownership model (spec §5).
package vaddr

import (
	"github.com/ucbrise/mage-sub001/internal/diag"
	"github.com/ucbrise/mage-sub001/internal/memprog"
)

// addressSpaceBits bounds the virtual address space the bump pointer can
// cover before allocation becomes a fatal programmer error (spec §4.1
// "Failure semantics").
const addressSpaceBits = 48

// Allocator is the bump + free-list-bin allocator backing the Builder's
// value abstraction. It is not safe for concurrent use; the Builder that
// owns it is itself single-threaded (spec §5).
type Allocator struct {
	next memprog.VirtAddr
	bins map[uint16][]memprog.VirtAddr
}

// New returns an allocator whose bump pointer starts at address zero.
func New() *Allocator {
	return &Allocator{bins: make(map[uint16][]memprog.VirtAddr)}
}

// Allocate returns a fresh or recycled base address for a width-bit
// region. Any address ever returned is either beyond every previously
// bump-allocated region, or was previously Recycled with this exact
// width (spec §4.4 recycler contract).
func (a *Allocator) Allocate(width uint16) (memprog.VirtAddr, error) {
	if bin := a.bins[width]; len(bin) > 0 {
		addr := bin[len(bin)-1]
		a.bins[width] = bin[:len(bin)-1]
		return addr, nil
	}
	addr := a.next
	end := addr + memprog.VirtAddr(width)
	if end < addr || uint64(end) >= (uint64(1)<<addressSpaceBits) {
		return 0, diag.Newf(diag.AllocError, "vaddr: address space exhausted allocating %d bits at %d", width, addr)
	}
	a.next = end
	return addr, nil
}

// Recycle pushes a width-bit region back onto the bin for that width, to
// be handed out again by a future Allocate call of the same width. The
// bump pointer itself never moves backward.
func (a *Allocator) Recycle(addr memprog.VirtAddr, width uint16) {
	a.bins[width] = append(a.bins[width], addr)
}

// HighWaterMark returns the smallest address the bump pointer has not
// yet handed out, used to size the program's page count.
func (a *Allocator) HighWaterMark() memprog.VirtAddr {
	return a.next
}
