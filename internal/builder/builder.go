// Package builder implements the Program Builder (spec §4.1): the typed,
// width-parameterized DSL front end that converts each operation into a
// single packed virtual instruction, allocates and recycles virtual
// address regions, and persists the .prog file.
//
// Spec §9 flags the source's "global current program pointer" as a
// legacy convenience that should not leak into a re-implementation:
// every operation here takes an explicit *Builder rather than reaching
// for ambient state.
package builder

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ucbrise/mage-sub001/internal/diag"
	"github.com/ucbrise/mage-sub001/internal/memprog"
	"github.com/ucbrise/mage-sub001/internal/vaddr"
)

// MaxWidth is the largest operand bit-width the format allows (spec §3).
const MaxWidth = 65535

// Builder accumulates virtual instructions into a .prog file. It is not
// safe for concurrent use (spec §5, "the Builder owns all file handles
// and data structures exclusively").
type Builder struct {
	out       *memprog.Writer
	alloc     *vaddr.Allocator
	pageShift uint8
	log       *logrus.Entry
}

// New creates a Builder that will write its virtual program to path.
func New(path string, pageShift uint8, log *logrus.Entry) (*Builder, error) {
	w, err := memprog.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "builder: opening program file")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Builder{out: w, alloc: vaddr.New(), pageShift: pageShift, log: log}, nil
}

// Close finishes the .prog file, patching its header. It must be called
// exactly once, after every DSL operation has been emitted.
func (b *Builder) Close() error {
	err := b.out.Close()
	b.log.WithFields(logrus.Fields{
		"high_water_mark": b.alloc.HighWaterMark(),
	}).Info("program builder finished")
	return err
}

func (b *Builder) checkWidth(width uint16) error {
	if width < 1 {
		return diag.New(diag.ConfigError, "builder: width must be at least 1 bit")
	}
	return nil
}

func (b *Builder) emit(in memprog.Instruction) error {
	return b.out.Write(in, b.pageShift)
}

func (b *Builder) alloc1(width uint16) (memprog.VirtAddr, error) {
	if err := b.checkWidth(width); err != nil {
		return 0, err
	}
	return b.alloc.Allocate(width)
}

func (b *Builder) newOwned(addr memprog.VirtAddr, width uint16) *Value {
	return &Value{b: b, addr: addr, width: width, valid: true}
}

// Input allocates a fresh region and emits an instruction marking it as
// an input contributed by the given party (spec §4.1 "mark_input").
func (b *Builder) Input(party uint32, width uint16) (*Value, error) {
	addr, err := b.alloc1(width)
	if err != nil {
		return nil, err
	}
	if err := b.emit(memprog.Instruction{Op: memprog.Input, Width: width, Output: addr, Constant: party}); err != nil {
		return nil, err
	}
	return b.newOwned(addr, width), nil
}

// Constant allocates a fresh region and emits an instruction producing a
// public constant value (spec §4.1 "public_constant").
func (b *Builder) Constant(k uint32, width uint16) (*Value, error) {
	addr, err := b.alloc1(width)
	if err != nil {
		return nil, err
	}
	if err := b.emit(memprog.Instruction{Op: memprog.PublicConstant, Width: width, Output: addr, Constant: k}); err != nil {
		return nil, err
	}
	return b.newOwned(addr, width), nil
}

func (b *Builder) checkOperand(v *Value) error {
	if v == nil || !v.valid {
		return diag.New(diag.UsageError, "builder: operand is invalid (moved-from, recycled, or never allocated)")
	}
	return nil
}

func (b *Builder) binary(op memprog.OpCode, x, y *Value) (*Value, error) {
	if err := b.checkOperand(x); err != nil {
		return nil, err
	}
	if err := b.checkOperand(y); err != nil {
		return nil, err
	}
	if x.width != y.width {
		return nil, diag.Newf(diag.UsageError, "builder: %s operand widths differ: %d vs %d", op, x.width, y.width)
	}
	addr, err := b.alloc1(x.width)
	if err != nil {
		return nil, err
	}
	if err := b.emit(memprog.Instruction{Op: op, Width: x.width, Input1: x.addr, Input2: y.addr, Output: addr}); err != nil {
		return nil, err
	}
	return b.newOwned(addr, x.width), nil
}

// binaryBit is for comparisons (Less, Equal) whose output is always a
// single bit regardless of operand width (spec §3, "single_bit" flag on
// the source's OpInfo).
func (b *Builder) binaryBit(op memprog.OpCode, x, y *Value) (*Value, error) {
	if err := b.checkOperand(x); err != nil {
		return nil, err
	}
	if err := b.checkOperand(y); err != nil {
		return nil, err
	}
	if x.width != y.width {
		return nil, diag.Newf(diag.UsageError, "builder: %s operand widths differ: %d vs %d", op, x.width, y.width)
	}
	addr, err := b.alloc1(1)
	if err != nil {
		return nil, err
	}
	if err := b.emit(memprog.Instruction{Op: op, Width: x.width, Input1: x.addr, Input2: y.addr, Output: addr}); err != nil {
		return nil, err
	}
	return b.newOwned(addr, 1), nil
}

func (b *Builder) unary(op memprog.OpCode, x *Value) (*Value, error) {
	if err := b.checkOperand(x); err != nil {
		return nil, err
	}
	addr, err := b.alloc1(x.width)
	if err != nil {
		return nil, err
	}
	if err := b.emit(memprog.Instruction{Op: op, Width: x.width, Input1: x.addr, Output: addr}); err != nil {
		return nil, err
	}
	return b.newOwned(addr, x.width), nil
}

func (b *Builder) unaryBit(op memprog.OpCode, x *Value) (*Value, error) {
	if err := b.checkOperand(x); err != nil {
		return nil, err
	}
	addr, err := b.alloc1(1)
	if err != nil {
		return nil, err
	}
	if err := b.emit(memprog.Instruction{Op: op, Width: x.width, Input1: x.addr, Output: addr}); err != nil {
		return nil, err
	}
	return b.newOwned(addr, 1), nil
}

// Add, Sub, BitAnd, BitOr, BitXor, Multiply each compute a same-width
// result from two same-width operands.
func (b *Builder) Add(x, y *Value) (*Value, error)      { return b.binary(memprog.Add, x, y) }
func (b *Builder) Sub(x, y *Value) (*Value, error)      { return b.binary(memprog.Sub, x, y) }
func (b *Builder) BitAnd(x, y *Value) (*Value, error)   { return b.binary(memprog.BitAnd, x, y) }
func (b *Builder) BitOr(x, y *Value) (*Value, error)    { return b.binary(memprog.BitOr, x, y) }
func (b *Builder) BitXor(x, y *Value) (*Value, error)   { return b.binary(memprog.BitXor, x, y) }
func (b *Builder) Multiply(x, y *Value) (*Value, error) { return b.binary(memprog.Multiply, x, y) }

// Less and Equal produce a single bit regardless of operand width.
func (b *Builder) Less(x, y *Value) (*Value, error)  { return b.binaryBit(memprog.Less, x, y) }
func (b *Builder) Equal(x, y *Value) (*Value, error) { return b.binaryBit(memprog.Equal, x, y) }

// Increment, Decrement and BitNot preserve width.
func (b *Builder) Increment(x *Value) (*Value, error) { return b.unary(memprog.Increment, x) }
func (b *Builder) Decrement(x *Value) (*Value, error) { return b.unary(memprog.Decrement, x) }
func (b *Builder) BitNot(x *Value) (*Value, error)    { return b.unary(memprog.BitNot, x) }

// IsZero and NonZero produce a single bit.
func (b *Builder) IsZero(x *Value) (*Value, error)  { return b.unaryBit(memprog.IsZero, x) }
func (b *Builder) NonZero(x *Value) (*Value, error) { return b.unaryBit(memprog.NonZero, x) }

// Select computes cond ? onTrue : onFalse. onTrue and onFalse must share
// a width, which is also the result's; cond's width is not checked (it is
// conventionally a single bit).
func (b *Builder) Select(cond, onTrue, onFalse *Value) (*Value, error) {
	if err := b.checkOperand(cond); err != nil {
		return nil, err
	}
	if err := b.checkOperand(onTrue); err != nil {
		return nil, err
	}
	if err := b.checkOperand(onFalse); err != nil {
		return nil, err
	}
	if onTrue.width != onFalse.width {
		return nil, diag.Newf(diag.UsageError, "builder: select branch widths differ: %d vs %d", onTrue.width, onFalse.width)
	}
	addr, err := b.alloc1(onTrue.width)
	if err != nil {
		return nil, err
	}
	in := memprog.Instruction{Op: memprog.Select, Width: onTrue.width, Input1: cond.addr, Input2: onTrue.addr, Input3: onFalse.addr, Output: addr}
	if err := b.emit(in); err != nil {
		return nil, err
	}
	return b.newOwned(addr, onTrue.width), nil
}

// AddWithCarry computes x+y+carryIn. x and y must share a width, which is
// also the result's; carryIn's width is not checked.
func (b *Builder) AddWithCarry(x, y, carryIn *Value) (*Value, error) {
	if err := b.checkOperand(x); err != nil {
		return nil, err
	}
	if err := b.checkOperand(y); err != nil {
		return nil, err
	}
	if err := b.checkOperand(carryIn); err != nil {
		return nil, err
	}
	if x.width != y.width {
		return nil, diag.Newf(diag.UsageError, "builder: addWithCarry operand widths differ: %d vs %d", x.width, y.width)
	}
	addr, err := b.alloc1(x.width)
	if err != nil {
		return nil, err
	}
	in := memprog.Instruction{Op: memprog.AddWithCarry, Width: x.width, Input1: x.addr, Input2: y.addr, Input3: carryIn.addr, Output: addr}
	if err := b.emit(in); err != nil {
		return nil, err
	}
	return b.newOwned(addr, x.width), nil
}

// MarkOutput emits an Output instruction for v and records its address
// range as a live program output (spec §4.1 "mark_output").
func (b *Builder) MarkOutput(v *Value) error {
	if err := b.checkOperand(v); err != nil {
		return err
	}
	if err := b.emit(memprog.Instruction{Op: memprog.Output, Width: v.width, Input1: v.addr}); err != nil {
		return err
	}
	b.out.AddOutputRange(v.addr, v.width)
	return nil
}

// Slice produces a borrowed, non-owning handle to a width-bit sub-range
// of src starting at bit offset. The slice never allocates its own
// region; recycling it is a no-op (spec §8 scenario S6).
func (b *Builder) Slice(src *Value, offset, width uint16) (*Value, error) {
	if err := b.checkOperand(src); err != nil {
		return nil, err
	}
	if uint32(offset)+uint32(width) > uint32(src.width) {
		return nil, diag.Newf(diag.UsageError, "builder: slice [%d,%d) out of bounds for width-%d value", offset, offset+width, src.width)
	}
	return &Value{b: b, addr: src.addr + memprog.VirtAddr(offset), width: width, valid: true, sliced: true, owner: src}, nil
}

// Move transfers src's region to dst and invalidates src, the
// same move-only discipline spec §4.1 requires of the value
// abstraction. dst must not already be valid.
func (b *Builder) Move(dst, src *Value) error {
	if err := b.checkOperand(src); err != nil {
		return err
	}
	*dst = Value{b: b, addr: src.addr, width: src.width, valid: true, sliced: src.sliced, owner: src.owner}
	src.valid = false
	return nil
}

// mutateTo overwrites v's region in place with the value produced by op
// applied to the given operands, without reallocating v's address — so
// any slices previously taken of v observe the new contents (spec §4.1
// "Copy-on-write mutate-to", §8 scenario S6). v itself must not be a
// slice: a slice borrows someone else's region and has nothing of its
// own to mutate.
func (b *Builder) mutateTo(v *Value, in memprog.Instruction) error {
	if err := b.checkOperand(v); err != nil {
		return err
	}
	if v.sliced {
		return diag.New(diag.UsageError, "builder: cannot mutate a sliced (non-owning) value")
	}
	in.Output = v.addr
	return b.emit(in)
}

// MutateToConstant overwrites v in place with a fresh public constant.
func (b *Builder) MutateToConstant(v *Value, k uint32) error {
	return b.mutateTo(v, memprog.Instruction{Op: memprog.PublicConstant, Width: v.width, Constant: k})
}

// MutateToCopy overwrites v in place with src's current value (the only
// sanctioned way to duplicate a Value's contents; spec §4.1).
func (b *Builder) MutateToCopy(v, src *Value) error {
	if err := b.checkOperand(src); err != nil {
		return err
	}
	if src.width != v.width {
		return diag.Newf(diag.UsageError, "builder: mutate-to-copy width mismatch: %d vs %d", v.width, src.width)
	}
	return b.mutateTo(v, memprog.Instruction{Op: memprog.Copy, Width: v.width, Input1: src.addr})
}

// Destruct recycles v's region, unless v is sliced (a no-op, since a
// slice owns nothing) or already invalid.
func (b *Builder) Destruct(v *Value) {
	if v == nil || !v.valid || v.sliced {
		return
	}
	b.alloc.Recycle(v.addr, v.width)
	v.valid = false
}

// BufferSend emits a non-blocking enqueue of v to peer (spec §5): it
// reads v's existing region, allocates no new one, and carries peer as
// its constant slot.
func (b *Builder) BufferSend(v *Value, peer uint32) error {
	if err := b.checkOperand(v); err != nil {
		return err
	}
	return b.emit(memprog.Instruction{Op: memprog.BufferSend, Width: v.width, Input1: v.addr, Constant: peer})
}

// FinishSend blocks (at execution time) until every prior BufferSend to
// peer has drained.
func (b *Builder) FinishSend(v *Value, peer uint32) error {
	if err := b.checkOperand(v); err != nil {
		return err
	}
	return b.emit(memprog.Instruction{Op: memprog.FinishSend, Width: v.width, Input1: v.addr, Constant: peer})
}

// PostReceive allocates a fresh region and starts a receive from peer.
func (b *Builder) PostReceive(peer uint32, width uint16) (*Value, error) {
	addr, err := b.alloc1(width)
	if err != nil {
		return nil, err
	}
	if err := b.emit(memprog.Instruction{Op: memprog.PostReceive, Width: width, Output: addr, Constant: peer}); err != nil {
		return nil, err
	}
	return b.newOwned(addr, width), nil
}

// FinishReceive blocks until every prior PostReceive from peer completes.
func (b *Builder) FinishReceive(v *Value, peer uint32) error {
	if err := b.checkOperand(v); err != nil {
		return err
	}
	return b.emit(memprog.Instruction{Op: memprog.FinishReceive, Width: v.width, Output: v.addr, Constant: peer})
}
