package memprog

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/ucbrise/mage-sub001/internal/diag"
	"github.com/ucbrise/mage-sub001/internal/planio"
)

// ProgramMagic identifies a .prog file (spec §6). The .prog header does
// not carry it, and Open does not check it.
const ProgramMagic uint64 = 0xfd908b96364a2e73

// FileHeader is the fixed 24-byte header at the start of a .prog file.
type FileHeader struct {
	NumInstructions  uint64
	NumOutputRanges  uint64
	NumPages         uint64
}

const fileHeaderSize = 8 * 3

// OutputRange is a half-open byte range, [Start, End), of a declared
// program output. Adjacent ranges are coalesced by AddOutputRange.
type OutputRange struct {
	Start, End VirtAddr
}

// Writer writes a .prog file: a zeroed header, followed by instructions
// as they're emitted, followed by the coalesced output range list, with
// the header patched in on Close (spec §4.1 "File format").
type Writer struct {
	f       *os.File
	w       *bufio.Writer
	count   uint64
	pageHi  VirtPage
	ranges  []OutputRange
	closed  bool
}

// Create opens path for writing and reserves space for the header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "memprog: creating %s", path)
	}
	w := &Writer{f: f, w: bufio.NewWriter(f)}
	var zero [fileHeaderSize]byte
	if _, err := w.w.Write(zero[:]); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "memprog: writing placeholder header")
	}
	return w, nil
}

// Write appends one instruction, tracking the high-water page mark used
// to compute the final NumPages.
func (w *Writer) Write(in Instruction, pageShift uint8) error {
	var buf [MaxInstructionSize]byte
	encoded := in.Encode(buf[:0])
	if _, err := w.w.Write(encoded); err != nil {
		return errors.Wrap(err, "memprog: writing instruction")
	}
	w.count++
	if f := FormatOf(in.Op); f.HasOutput() && in.Output != InvalidVAddr {
		r, _ := in.OutputPageRange(pageShift)
		if r.End+1 > w.pageHi {
			w.pageHi = r.End + 1
		}
	}
	for _, a := range [3]VirtAddr{in.Input1, in.Input2, in.Input3} {
		if a != InvalidVAddr {
			if p := PageOf(a, pageShift) + 1; p > w.pageHi {
				w.pageHi = p
			}
		}
	}
	return nil
}

// AddOutputRange records [start, start+width) as a live program output,
// coalescing it into the previous range if they're contiguous (spec
// §4.1 "Output ranges").
func (w *Writer) AddOutputRange(start VirtAddr, width uint16) {
	end := start + VirtAddr(width)
	if n := len(w.ranges); n > 0 && w.ranges[n-1].End == start {
		w.ranges[n-1].End = end
		return
	}
	w.ranges = append(w.ranges, OutputRange{Start: start, End: end})
}

// Close patches the file header with the final counts and writes the
// output range trailer. On any I/O error the file is left truncated
// rather than silently producing a well-formed-looking but wrong file
// (spec §7, "no partial output files are left behind in a successful
// state").
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	for _, r := range w.ranges {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Start))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(r.End))
		if _, err := w.w.Write(buf[:]); err != nil {
			w.f.Close()
			return errors.Wrap(err, "memprog: writing output range trailer")
		}
	}
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return errors.Wrap(err, "memprog: flushing program file")
	}
	header := FileHeader{
		NumInstructions: w.count,
		NumOutputRanges: uint64(len(w.ranges)),
		NumPages:        uint64(w.pageHi),
	}
	var hbuf [fileHeaderSize]byte
	binary.LittleEndian.PutUint64(hbuf[0:8], header.NumInstructions)
	binary.LittleEndian.PutUint64(hbuf[8:16], header.NumOutputRanges)
	binary.LittleEndian.PutUint64(hbuf[16:24], header.NumPages)
	if _, err := w.f.WriteAt(hbuf[:], 0); err != nil {
		w.f.Close()
		return errors.Wrap(err, "memprog: patching program file header")
	}
	return w.f.Close()
}

// Reader provides sequential forward access to a .prog file's
// instructions, followed by its output range trailer. Its backing bytes
// are a memory mapping rather than a heap copy, so opening even a large
// program file costs no more than the OS's page cache already holds.
type Reader struct {
	Header FileHeader
	Ranges []OutputRange
	mapped *planio.MappedFile
	data   []byte
}

// Open memory-maps path and parses its header and trailer.
func Open(path string) (*Reader, error) {
	mapped, err := planio.OpenMapped(path)
	if err != nil {
		return nil, errors.Wrapf(err, "memprog: opening %s", path)
	}
	data := mapped.Bytes()
	if len(data) < fileHeaderSize {
		mapped.Close()
		return nil, diag.Newf(diag.FormatError, "memprog: %s is smaller than its header (%d bytes)", path, len(data))
	}
	r := &Reader{mapped: mapped, data: data}
	r.Header.NumInstructions = binary.LittleEndian.Uint64(data[0:8])
	r.Header.NumOutputRanges = binary.LittleEndian.Uint64(data[8:16])
	r.Header.NumPages = binary.LittleEndian.Uint64(data[16:24])

	trailerSize := int(r.Header.NumOutputRanges) * 16
	if len(data) < trailerSize {
		mapped.Close()
		return nil, diag.Newf(diag.FormatError, "memprog: %s truncated before output-range trailer", path)
	}
	trailer := data[len(data)-trailerSize:]
	r.Ranges = make([]OutputRange, r.Header.NumOutputRanges)
	for i := range r.Ranges {
		off := i * 16
		r.Ranges[i] = OutputRange{
			Start: VirtAddr(binary.LittleEndian.Uint64(trailer[off : off+8])),
			End:   VirtAddr(binary.LittleEndian.Uint64(trailer[off+8 : off+16])),
		}
	}
	r.data = data[fileHeaderSize : len(data)-trailerSize]
	return r, nil
}

// Instructions decodes and returns every instruction in forward order.
// Used by the disassembler and by callers (e.g. tests) that want random
// access without re-streaming the file.
func (r *Reader) Instructions() ([]Instruction, error) {
	out := make([]Instruction, 0, r.Header.NumInstructions)
	buf := r.data
	for i := uint64(0); i < r.Header.NumInstructions; i++ {
		in, n, err := Decode(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "memprog: decoding instruction %d", i)
		}
		out = append(out, in)
		buf = buf[n:]
	}
	if len(buf) != 0 {
		return nil, diag.Newf(diag.FormatError, "memprog: %d trailing bytes after last instruction", len(buf))
	}
	return out, nil
}

// ForEach streams instructions forward without materializing the whole
// slice, calling fn with each instruction's index and decoded value.
func (r *Reader) ForEach(fn func(i uint64, in Instruction) error) error {
	buf := r.data
	for i := uint64(0); i < r.Header.NumInstructions; i++ {
		in, n, err := Decode(buf)
		if err != nil {
			return errors.Wrapf(err, "memprog: decoding instruction %d", i)
		}
		if err := fn(i, in); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// ForEachReverse streams instructions from last to first, as required by
// the Reverse Annotator (spec §4.2). It first indexes instruction
// boundaries with a single forward pass (instructions are variable
// length, so backward decoding isn't possible without this), then visits
// them back to front.
//
// The boundary index is monotonically increasing by construction, so it
// is kept as a boundaryIndex rather than a plain []int: large programs
// see frame-of-reference/delta-encoding savings over one uint64 per
// instruction, since most instructions are a handful of bytes apart.
func (r *Reader) ForEachReverse(fn func(i uint64, in Instruction) error) error {
	raw := make([]uint64, r.Header.NumInstructions+1)
	buf := r.data
	pos := 0
	for i := uint64(0); i < r.Header.NumInstructions; i++ {
		raw[i] = uint64(pos)
		_, n, err := Decode(buf[pos:])
		if err != nil {
			return errors.Wrapf(err, "memprog: indexing instruction %d", i)
		}
		pos += n
	}
	raw[r.Header.NumInstructions] = uint64(pos)
	offsets := newBoundaryIndex(raw)

	for i := int64(r.Header.NumInstructions) - 1; i >= 0; i-- {
		start, end := offsets.Index(int(i)), offsets.Index(int(i)+1)
		in, _, err := Decode(r.data[start:end])
		if err != nil {
			return errors.Wrapf(err, "memprog: decoding instruction %d", i)
		}
		if err := fn(uint64(i), in); err != nil {
			return err
		}
	}
	return nil
}

var _ io.Closer = (*Writer)(nil)

// Close unmaps the Reader's backing file.
func (r *Reader) Close() error {
	if r.mapped == nil {
		return nil
	}
	return errors.Wrap(r.mapped.Close(), "memprog: unmapping program file")
}
