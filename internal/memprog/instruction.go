package memprog

import (
	"encoding/binary"
	"fmt"
)

// VirtAddr is a bit offset into the flat virtual address space (spec §3).
type VirtAddr uint64

// InvalidVAddr marks an unused operand slot.
const InvalidVAddr VirtAddr = (1 << 62) - 1

// VirtPage identifies a fixed-size, aligned window of the virtual address
// space. All residency and swapping is at this granularity.
type VirtPage uint64

// PageOf returns the page containing addr under the given page_shift.
func PageOf(addr VirtAddr, pageShift uint8) VirtPage {
	return VirtPage(uint64(addr) >> pageShift)
}

// PageRange is an inclusive range of virtual pages, [Start, End].
type PageRange struct {
	Start, End VirtPage
}

// RangeOf returns the inclusive page range covered by a width-wide operand
// based at addr.
func RangeOf(addr VirtAddr, width uint16, pageShift uint8) PageRange {
	return PageRange{
		Start: PageOf(addr, pageShift),
		End:   PageOf(addr+VirtAddr(width)-1, pageShift),
	}
}

// Instruction is one packed virtual instruction: an opcode, an operand
// width, up to three input operands, at most one output operand, and
// (depending on format) a 32-bit public constant.
//
// Unused operand slots hold InvalidVAddr; the populated subset is
// entirely determined by FormatOf(Op), per the variable-length encoding
// described in spec §4.1.
type Instruction struct {
	Op       OpCode
	Width    uint16
	Input1   VirtAddr
	Input2   VirtAddr
	Input3   VirtAddr
	Output   VirtAddr
	Constant uint32
}

// header is opcode (1 byte) + width (2 bytes).
const headerSize = 3

// Size returns the number of bytes Encode writes for this instruction.
// This is the single function both the Builder's writer and every
// reader in the pipeline must use; no stage may assume a fixed record
// size (spec §9, "never assume a fixed record size").
func (in Instruction) Size() int {
	return InstructionSize(FormatOf(in.Op))
}

// InstructionSize is the pure opcode-format -> byte-count function called
// out in spec §9 ("Implementers should provide a pure instruction_size
// function and use it uniformly for both writing and reading").
func InstructionSize(f Format) int {
	size := headerSize
	size += 8 * f.NumInputs()
	if f.HasOutput() {
		size += 8
	}
	if f.HasConstant() {
		size += 4
	}
	return size
}

// MaxInstructionSize bounds the largest instruction record, used to size
// fixed read buffers in streaming stages.
const MaxInstructionSize = headerSize + 8*3 + 8 + 4

// Encode appends the packed encoding of in to buf and returns the result.
func (in Instruction) Encode(buf []byte) []byte {
	f := FormatOf(in.Op)
	buf = append(buf, byte(in.Op))
	buf = binary.LittleEndian.AppendUint16(buf, in.Width)
	inputs := [3]VirtAddr{in.Input1, in.Input2, in.Input3}
	for i := 0; i < f.NumInputs(); i++ {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(inputs[i]))
	}
	if f.HasOutput() {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(in.Output))
	}
	if f.HasConstant() {
		buf = binary.LittleEndian.AppendUint32(buf, in.Constant)
	}
	return buf
}

// Decode parses one packed instruction from the front of buf, returning
// the decoded instruction and the number of bytes consumed. buf must
// contain at least headerSize bytes; callers are expected to know (from
// a preceding read of enough bytes, or from MaxInstructionSize) that the
// full record is present before calling Decode.
func Decode(buf []byte) (Instruction, int, error) {
	if len(buf) < headerSize {
		return Instruction{}, 0, fmt.Errorf("memprog: truncated instruction header: have %d bytes, need %d", len(buf), headerSize)
	}
	in := Instruction{
		Op:     OpCode(buf[0]),
		Width:  binary.LittleEndian.Uint16(buf[1:3]),
		Input1: InvalidVAddr,
		Input2: InvalidVAddr,
		Input3: InvalidVAddr,
		Output: InvalidVAddr,
	}
	if int(in.Op) >= len(formatOf) {
		return Instruction{}, 0, fmt.Errorf("memprog: invalid opcode %d", buf[0])
	}
	f := FormatOf(in.Op)
	need := InstructionSize(f)
	if len(buf) < need {
		return Instruction{}, 0, fmt.Errorf("memprog: truncated %s instruction: have %d bytes, need %d", in.Op, len(buf), need)
	}
	off := headerSize
	inputs := [3]*VirtAddr{&in.Input1, &in.Input2, &in.Input3}
	for i := 0; i < f.NumInputs(); i++ {
		*inputs[i] = VirtAddr(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	if f.HasOutput() {
		in.Output = VirtAddr(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	if f.HasConstant() {
		in.Constant = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return in, off, nil
}

// InputPageRanges returns the merged, disjoint list of page ranges
// covered by in's (up to three) input operands, in operand order with
// overlaps/adjacencies merged — the same range-merge contract the
// Reverse Annotator relies on (spec §4.2 step 3b).
func (in Instruction) InputPageRanges(pageShift uint8) []PageRange {
	f := FormatOf(in.Op)
	raw := [3]VirtAddr{in.Input1, in.Input2, in.Input3}
	var ranges []PageRange
	for i := 0; i < f.NumInputs(); i++ {
		r := RangeOf(raw[i], in.Width, pageShift)
		if len(ranges) > 0 && mergeAdjacent(&ranges[len(ranges)-1], r) {
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges
}

// OutputPageRange returns the page range covered by in's output operand,
// or (PageRange{}, false) if in's format has no output.
func (in Instruction) OutputPageRange(pageShift uint8) (PageRange, bool) {
	f := FormatOf(in.Op)
	if !f.HasOutput() {
		return PageRange{}, false
	}
	return RangeOf(in.Output, in.Width, pageShift), true
}

// mergeAdjacent merges r into *acc if they overlap or touch, returning
// whether a merge happened.
func mergeAdjacent(acc *PageRange, r PageRange) bool {
	if r.Start > acc.End+1 || acc.Start > r.End+1 {
		return false
	}
	if r.Start < acc.Start {
		acc.Start = r.Start
	}
	if r.End > acc.End {
		acc.End = r.End
	}
	return true
}
