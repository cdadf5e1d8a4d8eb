// Package placer implements the Belady-optimal Placer (spec §4.3): the
// stage that walks the virtual program and its reverse-annotated
// next-use records in lockstep, assigns each live page a physical slot
// out of a fixed-capacity resident set, evicts the resident page with
// the farthest next use whenever a fresh slot is needed, and rewrites
// every instruction's operands from virtual addresses to physical
// slots, inserting explicit SwapIn/SwapOut records at every eviction
// boundary.
//
// The admission/eviction bookkeeping is grounded on the teacher's
// compiler_value_location.go valueLocationStack: a small map of "what's
// live right now and where," with eviction driven by a priority search
// instead of wazero's LRU-ish register spill choice. The eviction rule
// itself is grounded on original_source/src/planner/memory.hpp's
// BeladyAllocator.
package placer

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ucbrise/mage-sub001/internal/annotator"
	"github.com/ucbrise/mage-sub001/internal/diag"
	"github.com/ucbrise/mage-sub001/internal/memprog"
	"github.com/ucbrise/mage-sub001/internal/physprog"
	"github.com/ucbrise/mage-sub001/internal/priority"
)

// MinCapacityPages is the smallest resident-set capacity the Placer will
// accept: room for the busiest instruction's operands (three inputs and
// an output) (spec §7).
const MinCapacityPages = 4

// Stats summarizes one Placer run, reported back to the CLI (spec §6).
type Stats struct {
	NumSwapIns    uint64
	NumSwapOuts   uint64
	PeakResident  uint64
	CapacityPages uint64
}

// state is the Placer's working memory: which virtual pages are
// currently resident, in which physical slot, which slots are free, and
// the priority index ordering resident pages by next use for eviction.
type state struct {
	pageShift uint8

	resident map[memprog.VirtPage]int32
	slotPage map[int32]memprog.VirtPage
	free     []int32
	prio     *priority.Index

	out *physprog.Writer

	swapIns, swapOuts uint64
	peakResident      uint64
}

func newState(capacity uint64, pageShift uint8, out *physprog.Writer) *state {
	free := make([]int32, capacity)
	for i := range free {
		free[i] = int32(capacity) - 1 - int32(i)
	}
	return &state{
		pageShift: pageShift,
		resident:  make(map[memprog.VirtPage]int32, capacity),
		slotPage:  make(map[int32]memprog.VirtPage, capacity),
		free:      free,
		prio:      priority.New(),
		out:       out,
	}
}

// allocSlot returns a free physical slot, evicting the current resident
// page with the farthest next use (spec §4.3 "allocate_slot") if the
// free list is empty.
func (s *state) allocSlot() (int32, error) {
	if n := len(s.free); n > 0 {
		slot := s.free[n-1]
		s.free = s.free[:n-1]
		return slot, nil
	}
	slot, _, ok := s.prio.ExtractMax()
	if !ok {
		return 0, diag.New(diag.AllocError, "placer: capacity exhausted with no resident page eligible for eviction")
	}
	page, ok := s.slotPage[slot]
	if !ok {
		return 0, diag.New(diag.AllocError, "placer: priority index referenced an untracked slot")
	}
	delete(s.slotPage, slot)
	delete(s.resident, page)
	if err := s.out.Write(physprog.Instruction{Kind: physprog.SwapOut, Slot: uint32(slot), VirtPage: page}); err != nil {
		return 0, errors.Wrap(err, "placer: writing swap-out record")
	}
	s.swapOuts++
	return slot, nil
}

// admitPage ensures page is resident, swapping it in if it is not,
// and returns the slot it occupies. Used for operands the instruction
// reads (inputs only; the final live-output flush uses flushIfResident,
// which never swaps a page back in just to flush it out again).
func (s *state) admitPage(page memprog.VirtPage) (int32, error) {
	if slot, ok := s.resident[page]; ok {
		return slot, nil
	}
	slot, err := s.allocSlot()
	if err != nil {
		return 0, err
	}
	if err := s.out.Write(physprog.Instruction{Kind: physprog.SwapIn, Slot: uint32(slot), VirtPage: page}); err != nil {
		return 0, errors.Wrap(err, "placer: writing swap-in record")
	}
	s.swapIns++
	s.resident[page] = slot
	s.slotPage[slot] = page
	s.noteResident()
	return slot, nil
}

// provisionPage ensures page has a physical slot without reading any
// prior content into it: used for an instruction's output page, which
// is produced fresh rather than read (spec §4.3 "Provisioning an output
// never requires a swap-in").
func (s *state) provisionPage(page memprog.VirtPage) (int32, error) {
	if slot, ok := s.resident[page]; ok {
		return slot, nil
	}
	slot, err := s.allocSlot()
	if err != nil {
		return 0, err
	}
	s.resident[page] = slot
	s.slotPage[slot] = page
	s.noteResident()
	return slot, nil
}

func (s *state) noteResident() {
	if n := uint64(len(s.resident)); n > s.peakResident {
		s.peakResident = n
	}
}

// touchPage records page's next use after the current instruction. A
// Never next use means the page cannot profitably stay resident at all,
// so its slot is reclaimed immediately rather than waiting for it to
// surface as an eviction victim (spec §4.3 step 4).
func (s *state) touchPage(page memprog.VirtPage, slot int32, nextUse uint64) {
	if nextUse == annotator.Never {
		s.prio.Remove(slot)
		delete(s.resident, page)
		delete(s.slotPage, slot)
		s.free = append(s.free, slot)
		return
	}
	if _, ok := s.prio.KeyOf(slot); ok {
		s.prio.Update(slot, nextUse)
	} else {
		s.prio.Insert(slot, nextUse)
	}
}

// flushIfResident emits the mandatory final SwapOut for a live-output
// page that is still resident at end of stream (spec §4.3
// "Finalization", §9's second Open Question: "a correct implementation
// MUST flush live outputs at end of stream"). A live-output page already
// evicted during execution was durably swapped out then, at which point
// its content reached backing storage; flushing it again here would be
// both spurious and, via admitPage, would wrongly inflate NumSwapIns
// with a swap-in no instruction ever needed.
func (s *state) flushIfResident(page memprog.VirtPage) error {
	slot, ok := s.resident[page]
	if !ok {
		return nil
	}
	s.prio.Remove(slot)
	if err := s.out.Write(physprog.Instruction{Kind: physprog.SwapOut, Slot: uint32(slot), VirtPage: page}); err != nil {
		return errors.Wrap(err, "placer: writing final live-output swap-out record")
	}
	s.swapOuts++
	delete(s.resident, page)
	delete(s.slotPage, slot)
	s.free = append(s.free, slot)
	return nil
}

// Run places prog (at progPath, annotated at annPath) into a physical
// bytecode file at outPath with the given resident-set capacity,
// reporting swap counts for the caller to surface (spec §6).
func Run(progPath, annPath, outPath string, capacityPages uint64, pageShift uint8, log *logrus.Entry) (Stats, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if capacityPages < MinCapacityPages {
		return Stats{}, diag.Newf(diag.ConfigError, "placer: capacity %d pages is below the minimum of %d", capacityPages, MinCapacityPages)
	}

	prog, err := memprog.Open(progPath)
	if err != nil {
		return Stats{}, errors.Wrap(err, "placer: opening program file")
	}
	records, err := annotator.ReadAll(annPath)
	if err != nil {
		return Stats{}, errors.Wrap(err, "placer: reading annotation file")
	}
	if uint64(len(records)) != prog.Header.NumInstructions {
		return Stats{}, diag.Newf(diag.FormatError, "placer: %d annotation records for %d instructions", len(records), prog.Header.NumInstructions)
	}

	out, err := physprog.Create(outPath, capacityPages)
	if err != nil {
		return Stats{}, errors.Wrap(err, "placer: creating physical bytecode file")
	}

	st := newState(capacityPages, pageShift, out)

	runErr := prog.ForEach(func(i uint64, in memprog.Instruction) error {
		f := memprog.FormatOf(in.Op)
		rawInputs := [3]memprog.VirtAddr{in.Input1, in.Input2, in.Input3}

		rec := records[i]
		inputRanges := in.InputPageRanges(pageShift)
		type inputTouch struct {
			page    memprog.VirtPage
			slot    int32
			nextUse uint64
		}
		var touches []inputTouch
		idx := 0
		for _, r := range inputRanges {
			for p := r.Start; p <= r.End; p++ {
				if idx >= len(rec.InputNextUse) {
					return diag.Newf(diag.FormatError, "placer: instruction %d: annotation ran short of input entries", i)
				}
				nextUse := rec.InputNextUse[idx]
				slot, err := st.admitPage(p)
				if err != nil {
					return err
				}
				touches = append(touches, inputTouch{page: p, slot: slot, nextUse: nextUse})
				idx++
			}
		}

		phys := physprog.Instruction{
			Kind: physprog.Compute, Op: in.Op, Width: in.Width,
			Input1: physprog.InvalidSlot, Input2: physprog.InvalidSlot,
			Input3: physprog.InvalidSlot, Output: physprog.InvalidSlot,
		}
		inputSlots := [3]*uint32{&phys.Input1, &phys.Input2, &phys.Input3}
		for n := 0; n < f.NumInputs(); n++ {
			slot, ok := st.resident[memprog.PageOf(rawInputs[n], pageShift)]
			if !ok {
				return diag.Newf(diag.FormatError, "placer: instruction %d: input %d not resident after admission", i, n)
			}
			*inputSlots[n] = uint32(slot)
		}
		for _, tp := range touches {
			st.touchPage(tp.page, tp.slot, tp.nextUse)
		}

		if f.HasOutput() && in.Output != memprog.InvalidVAddr {
			outRange, _ := in.OutputPageRange(pageShift)
			oidx := 0
			for p := outRange.End; ; p-- {
				if oidx >= len(rec.OutputNextUse) {
					return diag.Newf(diag.FormatError, "placer: instruction %d: annotation ran short of output entries", i)
				}
				nextUse := rec.OutputNextUse[oidx]
				slot, err := st.provisionPage(p)
				if err != nil {
					return err
				}
				st.touchPage(p, slot, nextUse)
				oidx++
				if p == outRange.Start {
					break
				}
			}
			slot, ok := st.resident[memprog.PageOf(in.Output, pageShift)]
			if ok {
				phys.Output = uint32(slot)
			}
			// else: the output page was touched with a Never next use and
			// its slot was already reclaimed; nothing downstream reads it.
		}

		return out.Write(phys)
	})
	if runErr != nil {
		return Stats{}, runErr
	}

	for _, r := range prog.Ranges {
		start := memprog.PageOf(r.Start, pageShift)
		end := memprog.PageOf(r.End-1, pageShift)
		for p := start; p <= end; p++ {
			if err := st.flushIfResident(p); err != nil {
				return Stats{}, err
			}
		}
	}

	if err := out.Close(); err != nil {
		return Stats{}, errors.Wrap(err, "placer: closing physical bytecode file")
	}

	stats := Stats{
		NumSwapIns:    st.swapIns,
		NumSwapOuts:   st.swapOuts,
		PeakResident:  st.peakResident,
		CapacityPages: capacityPages,
	}
	log.WithFields(logrus.Fields{
		"num_swapins":   stats.NumSwapIns,
		"num_swapouts":  stats.NumSwapOuts,
		"peak_resident": stats.PeakResident,
		"capacity":      stats.CapacityPages,
	}).Info("placer finished")
	return stats, nil
}
