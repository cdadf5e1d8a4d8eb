package physprog

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/ucbrise/mage-sub001/internal/diag"
)

// ProgramMagic identifies a physical bytecode file (spec §6).
const ProgramMagic uint64 = 0xc4c1c2a3e9517bde

// FileHeader is the fixed-size prefix of a physical bytecode file. There
// is no output-slot trailer: a live output's final resting place is
// whatever the last SwapOut record says about its virtual page, per the
// mandatory finalization flush (spec §4.3 "Finalization"), so no
// separate index is needed to find it.
type FileHeader struct {
	Magic           uint64
	NumInstructions uint64
	CapacityPages   uint64
}

const fileHeaderSize = 8 * 3

// Writer streams physical instructions to a file, patching in the final
// header on Close, mirroring memprog.Writer.
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	count  uint64
	cap    uint64
	closed bool
}

// Create opens path and reserves space for its header, to be patched on
// Close. capacityPages is recorded for diagnostic/disassembly purposes.
func Create(path string, capacityPages uint64) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "physprog: creating %s", path)
	}
	if _, err := f.Write(make([]byte, fileHeaderSize)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "physprog: writing placeholder header")
	}
	return &Writer{f: f, w: bufio.NewWriter(f), cap: capacityPages}, nil
}

// Write appends one physical instruction.
func (w *Writer) Write(in Instruction) error {
	buf := in.Encode(make([]byte, 0, MaxInstructionSize))
	if _, err := w.w.Write(buf); err != nil {
		w.f.Close()
		w.closed = true
		return errors.Wrap(err, "physprog: writing instruction")
	}
	w.count++
	return nil
}

// Close flushes the instruction stream and patches the header in place.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	defer func() { w.closed = true }()

	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return errors.Wrap(err, "physprog: flushing instruction stream")
	}

	hdr := FileHeader{
		Magic:           ProgramMagic,
		NumInstructions: w.count,
		CapacityPages:   w.cap,
	}
	hbuf := make([]byte, 0, fileHeaderSize)
	hbuf = binary.LittleEndian.AppendUint64(hbuf, hdr.Magic)
	hbuf = binary.LittleEndian.AppendUint64(hbuf, hdr.NumInstructions)
	hbuf = binary.LittleEndian.AppendUint64(hbuf, hdr.CapacityPages)
	if _, err := w.f.WriteAt(hbuf, 0); err != nil {
		w.f.Close()
		return errors.Wrap(err, "physprog: patching header")
	}
	return w.f.Close()
}

// Reader provides read access to a completed physical bytecode file.
type Reader struct {
	Header FileHeader
	data   []byte
}

// Open reads and parses the physical bytecode file at path. physprog.Open
// reads the whole file with os.ReadFile rather than internal/planio's
// mmap path: it's the disassembler's and the plan cache install path's
// one-shot read of an already-small completed bytecode file, not a hot
// pipeline stage reopened per run the way memprog.Open is.
func Open(path string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "physprog: opening %s", path)
	}
	if len(raw) < fileHeaderSize {
		return nil, diag.Newf(diag.FormatError, "physprog: %s too small for a header", path)
	}
	hdr := FileHeader{
		Magic:           binary.LittleEndian.Uint64(raw[0:8]),
		NumInstructions: binary.LittleEndian.Uint64(raw[8:16]),
		CapacityPages:   binary.LittleEndian.Uint64(raw[16:24]),
	}
	if hdr.Magic != ProgramMagic {
		return nil, diag.Newf(diag.FormatError, "physprog: %s has bad magic %#x", path, hdr.Magic)
	}
	return &Reader{Header: hdr, data: raw[fileHeaderSize:]}, nil
}

// ForEach streams every instruction in forward order.
func (r *Reader) ForEach(fn func(i uint64, in Instruction) error) error {
	pos := 0
	var i uint64
	for pos < len(r.data) {
		in, n, err := Decode(r.data[pos:])
		if err != nil {
			return diag.Newf(diag.FormatError, "physprog: %v", err)
		}
		if err := fn(i, in); err != nil {
			return err
		}
		pos += n
		i++
	}
	return nil
}

// Instructions decodes the entire instruction stream into memory.
func (r *Reader) Instructions() ([]Instruction, error) {
	out := make([]Instruction, 0, r.Header.NumInstructions)
	err := r.ForEach(func(_ uint64, in Instruction) error {
		out = append(out, in)
		return nil
	})
	return out, err
}
