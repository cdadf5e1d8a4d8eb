package annotator

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies an annotation record header (spec §6).
const Magic uint32 = 0x54ac3429

// Never marks a page that is not used again after the instruction that
// references it.
const Never uint64 = ^uint64(0)

// LiveOutput marks a page covered by a declared program output: it must
// survive to end of stream and ranks strictly below Never for eviction
// purposes (spec §4.3 "Tie-breaking").
const LiveOutput uint64 = ^uint64(0) - 1

// Record is one instruction's worth of next-use annotations: its
// (up to three merged) input pages in operand order, followed by its
// (at most one) output range's pages in descending page-number order.
//
// Per spec §4.2 "Ordering contract": within a record, input slots come
// first (ranges in operand order, pages ascending within a range), then
// output slots, written in the order callers will read them.
type Record struct {
	InputNextUse  []uint64
	OutputNextUse []uint64
}

const recordHeaderSize = 2 + 2 + 4

// Encode appends the packed encoding of r to buf.
func (r Record) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.InputNextUse)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.OutputNextUse)))
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	for _, v := range r.InputNextUse {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	for _, v := range r.OutputNextUse {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return buf
}

// Size returns the number of bytes Encode writes for this record.
func (r Record) Size() int {
	return recordHeaderSize + 8*(len(r.InputNextUse)+len(r.OutputNextUse))
}

// Decode parses one record from the front of buf, returning the decoded
// record and the number of bytes consumed.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < recordHeaderSize {
		return Record{}, 0, fmt.Errorf("annotator: truncated record header: have %d bytes, need %d", len(buf), recordHeaderSize)
	}
	numIn := int(binary.LittleEndian.Uint16(buf[0:2]))
	numOut := int(binary.LittleEndian.Uint16(buf[2:4]))
	magic := binary.LittleEndian.Uint32(buf[4:8])
	if magic != Magic {
		return Record{}, 0, fmt.Errorf("annotator: bad annotation magic %#x", magic)
	}
	need := recordHeaderSize + 8*(numIn+numOut)
	if len(buf) < need {
		return Record{}, 0, fmt.Errorf("annotator: truncated record body: have %d bytes, need %d", len(buf), need)
	}
	r := Record{InputNextUse: make([]uint64, numIn), OutputNextUse: make([]uint64, numOut)}
	off := recordHeaderSize
	for i := range r.InputNextUse {
		r.InputNextUse[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	for i := range r.OutputNextUse {
		r.OutputNextUse[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	return r, off, nil
}
