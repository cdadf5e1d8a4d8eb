// Package memprog defines the virtual-address bytecode: the opcode table,
// the packed virtual instruction encoding, and the .prog file format
// produced by the Program Builder and consumed by the Reverse Annotator
// and the Placer.
package memprog

import "fmt"

// OpCode identifies the operation an Instruction performs. The SMPC
// semantics of each opcode are opaque to this package; only operand
// arity, width constraints and the public-constant slot matter here.
type OpCode byte

const (
	Input OpCode = iota
	PublicConstant
	Add
	Sub
	Increment
	Decrement
	Less
	Equal
	IsZero
	NonZero
	BitNot
	BitAnd
	BitOr
	BitXor
	Select
	Output
	Copy
	AddWithCarry
	Multiply
	BufferSend
	PostReceive
	FinishSend
	FinishReceive
)

// opcodeNames mirrors the teacher's ExternTypeName lookup table: a flat,
// index-addressed name table rather than a switch, so adding an opcode
// can't silently fall through to a default case.
var opcodeNames = [...]string{
	Input:           "input",
	PublicConstant:  "constant",
	Add:             "add",
	Sub:             "sub",
	Increment:       "incr",
	Decrement:       "decr",
	Less:            "less",
	Equal:           "equal",
	IsZero:          "iszero",
	NonZero:         "nonzero",
	BitNot:          "not",
	BitAnd:          "and",
	BitOr:           "or",
	BitXor:          "xor",
	Select:          "select",
	Output:          "output",
	Copy:            "copy",
	AddWithCarry:    "addc",
	Multiply:        "mul",
	BufferSend:      "buffer_send",
	PostReceive:     "post_receive",
	FinishSend:      "finish_send",
	FinishReceive:   "finish_receive",
}

// String returns the opcode's mnemonic, used by the disassembler.
func (op OpCode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("opcode(%#x)", byte(op))
}

// Format classifies an opcode by its operand layout. The on-disk size of
// an instruction is a pure function of its Format; readers and writers
// must never assume a fixed record size (spec §9).
type Format byte

const (
	// FormatNoArgs takes no input operands, produces one output operand,
	// and carries a 32-bit constant (the input party id).
	FormatNoArgs Format = iota
	// FormatConstant takes no input operands, produces one output
	// operand, and carries a 32-bit constant (the public value).
	FormatConstant
	// FormatOneArg takes one input operand and produces one output.
	FormatOneArg
	// FormatTwoArgs takes two input operands and produces one output.
	FormatTwoArgs
	// FormatThreeArgs takes three input operands and produces one output.
	FormatThreeArgs
	// FormatSink takes one input operand and produces no output
	// (the program-output instruction).
	FormatSink
	// FormatSendConstant takes one input operand, produces no output,
	// and carries a 32-bit constant (the peer id).
	FormatSendConstant
	// FormatRecvConstant takes no input operand, produces one output,
	// and carries a 32-bit constant (the peer id).
	FormatRecvConstant
)

// formatOf is the pure opcode -> format mapping the spec's design notes
// require: both the writer and the reader consult this table, never a
// hardcoded size.
var formatOf = [...]Format{
	Input:          FormatNoArgs,
	PublicConstant: FormatConstant,
	Add:            FormatTwoArgs,
	Sub:            FormatTwoArgs,
	Increment:      FormatOneArg,
	Decrement:      FormatOneArg,
	Less:           FormatTwoArgs,
	Equal:          FormatTwoArgs,
	IsZero:         FormatOneArg,
	NonZero:        FormatOneArg,
	BitNot:         FormatOneArg,
	BitAnd:         FormatTwoArgs,
	BitOr:          FormatTwoArgs,
	BitXor:         FormatTwoArgs,
	Select:         FormatThreeArgs,
	Output:         FormatSink,
	Copy:           FormatOneArg,
	AddWithCarry:   FormatThreeArgs,
	Multiply:       FormatTwoArgs,
	BufferSend:     FormatSendConstant,
	PostReceive:    FormatRecvConstant,
	FinishSend:     FormatSendConstant,
	FinishReceive:  FormatRecvConstant,
}

// FormatOf returns op's instruction format. Panics on an opcode outside
// the closed set, which can only mean file corruption or a programmer
// error constructing an Instruction by hand.
func FormatOf(op OpCode) Format {
	if int(op) >= len(formatOf) {
		panic(fmt.Sprintf("memprog: opcode %d out of range", op))
	}
	return formatOf[op]
}

// NumInputs returns how many input operands op's format carries.
func (f Format) NumInputs() int {
	switch f {
	case FormatNoArgs, FormatConstant, FormatRecvConstant:
		return 0
	case FormatOneArg, FormatSink, FormatSendConstant:
		return 1
	case FormatTwoArgs:
		return 2
	case FormatThreeArgs:
		return 3
	default:
		panic(fmt.Sprintf("memprog: format %d out of range", f))
	}
}

// HasOutput reports whether op's format produces an output operand.
func (f Format) HasOutput() bool {
	return f != FormatSink && f != FormatSendConstant
}

// HasConstant reports whether op's format carries a 32-bit constant
// instead of (or in addition to) operands.
func (f Format) HasConstant() bool {
	switch f {
	case FormatNoArgs, FormatConstant, FormatSendConstant, FormatRecvConstant:
		return true
	default:
		return false
	}
}
