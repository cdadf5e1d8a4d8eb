// Package physprog defines the physical bytecode the Placer emits: the
// same opcodes and widths as memprog, but with virtual operands rewritten
// to physical slot indices, interleaved with explicit SwapIn/SwapOut
// records (spec §6).
package physprog

import (
	"encoding/binary"
	"fmt"

	"github.com/ucbrise/mage-sub001/internal/memprog"
)

// Kind distinguishes a rewritten compute instruction from the two
// pseudo-instructions the Placer inserts to manage residency.
type Kind byte

const (
	Compute Kind = iota
	SwapIn
	SwapOut
)

func (k Kind) String() string {
	switch k {
	case Compute:
		return "compute"
	case SwapIn:
		return "swapin"
	case SwapOut:
		return "swapout"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// InvalidSlot marks an unused physical operand slot.
const InvalidSlot uint32 = ^uint32(0)

// Instruction is one physical bytecode record. For Kind == Compute, Op
// and the Input/Output slots are meaningful, carrying the same opcode
// and width as the virtual instruction it was rewritten from, per
// spec §6 (only the operand addressing scheme changes, from a bit
// offset in the flat virtual space to a physical slot index rewritten
// by the Placer per-page; an operand spanning multiple virtual pages
// is rewritten to the slot holding its first page, leaving multi-slot
// reassembly to the out-of-scope executor, matching the single-slot
// rewrite rule spec §4.3 step 3 describes).
//
// For Kind == SwapIn or SwapOut, Slot and VirtPage are meaningful: the
// physical slot being populated or vacated, and the virtual page moving
// into or out of it.
type Instruction struct {
	Kind Kind

	Op     memprog.OpCode
	Width  uint16
	Input1 uint32
	Input2 uint32
	Input3 uint32
	Output uint32

	Slot     uint32
	VirtPage memprog.VirtPage
}

const physHeaderSize = 1 // kind byte

// Size returns the number of bytes Encode writes for this instruction.
func (in Instruction) Size() int {
	switch in.Kind {
	case SwapIn, SwapOut:
		return physHeaderSize + 4 + 8 // slot + virtual page
	default:
		f := memprog.FormatOf(in.Op)
		size := physHeaderSize + 1 /* opcode */ + 2 /* width */
		size += 4 * f.NumInputs()
		if f.HasOutput() {
			size += 4
		}
		if f.HasConstant() {
			size += 4
		}
		return size
	}
}

// Encode appends the packed encoding of in to buf.
func (in Instruction) Encode(buf []byte) []byte {
	buf = append(buf, byte(in.Kind))
	switch in.Kind {
	case SwapIn, SwapOut:
		buf = binary.LittleEndian.AppendUint32(buf, in.Slot)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(in.VirtPage))
	default:
		f := memprog.FormatOf(in.Op)
		buf = append(buf, byte(in.Op))
		buf = binary.LittleEndian.AppendUint16(buf, in.Width)
		inputs := [3]uint32{in.Input1, in.Input2, in.Input3}
		for i := 0; i < f.NumInputs(); i++ {
			buf = binary.LittleEndian.AppendUint32(buf, inputs[i])
		}
		if f.HasOutput() {
			buf = binary.LittleEndian.AppendUint32(buf, in.Output)
		}
		if f.HasConstant() {
			buf = binary.LittleEndian.AppendUint32(buf, 0) // constants are opaque past this point; reserved
		}
	}
	return buf
}

// MaxInstructionSize bounds the largest physical instruction record.
const MaxInstructionSize = physHeaderSize + 1 + 2 + 4*3 + 4 + 4

// Decode parses one packed physical instruction from the front of buf.
func Decode(buf []byte) (Instruction, int, error) {
	if len(buf) < physHeaderSize {
		return Instruction{}, 0, fmt.Errorf("physprog: truncated record header")
	}
	kind := Kind(buf[0])
	switch kind {
	case SwapIn, SwapOut:
		if len(buf) < physHeaderSize+4+8 {
			return Instruction{}, 0, fmt.Errorf("physprog: truncated %s record", kind)
		}
		slot := binary.LittleEndian.Uint32(buf[1:5])
		vp := binary.LittleEndian.Uint64(buf[5:13])
		return Instruction{Kind: kind, Slot: slot, VirtPage: memprog.VirtPage(vp)}, physHeaderSize + 4 + 8, nil
	default:
		if len(buf) < physHeaderSize+3 {
			return Instruction{}, 0, fmt.Errorf("physprog: truncated compute record header")
		}
		op := memprog.OpCode(buf[1])
		width := binary.LittleEndian.Uint16(buf[2:4])
		f := memprog.FormatOf(op)
		need := physHeaderSize + 1 + 2 + 4*f.NumInputs()
		if f.HasOutput() {
			need += 4
		}
		if f.HasConstant() {
			need += 4
		}
		if len(buf) < need {
			return Instruction{}, 0, fmt.Errorf("physprog: truncated %s compute record", op)
		}
		in := Instruction{Kind: Compute, Op: op, Width: width,
			Input1: InvalidSlot, Input2: InvalidSlot, Input3: InvalidSlot, Output: InvalidSlot}
		off := physHeaderSize + 3
		inputs := [3]*uint32{&in.Input1, &in.Input2, &in.Input3}
		for i := 0; i < f.NumInputs(); i++ {
			*inputs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
			off += 4
		}
		if f.HasOutput() {
			in.Output = binary.LittleEndian.Uint32(buf[off : off+4])
			off += 4
		}
		if f.HasConstant() {
			off += 4
		}
		return in, off, nil
	}
}
