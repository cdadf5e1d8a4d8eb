// Package planio provides the memory-mapped file access the planner's
// read-heavy stages use to avoid copying whole program files into the
// Go heap (spec §4.2 step 1, §5 "memory-mapped I/O"). It wraps
// golang.org/x/sys/unix the way xyproto-vibe67 and moby-moby both do for
// raw syscalls, rather than hand-rolling mmap through cgo or reaching for
// a higher-level (and unavailable in this pack) mmap package.
package planio

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MappedFile is a read-only memory mapping of an entire file, released by
// Close. It satisfies the same "treat the bytes as a slice" contract
// os.ReadFile's callers already rely on elsewhere in this module, so a
// *MappedFile can stand in for a loaded []byte without the Builder,
// Annotator, or Placer needing to know which one they were handed.
type MappedFile struct {
	data []byte
}

// OpenMapped memory-maps path read-only for the lifetime of the returned
// MappedFile. Zero-length files map to an empty, non-nil byte slice.
func OpenMapped(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "planio: opening %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "planio: statting %s", path)
	}
	size := info.Size()
	if size == 0 {
		return &MappedFile{data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "planio: mmap %s", path)
	}
	return &MappedFile{data: data}, nil
}

// Bytes returns the mapped file's contents. The slice is only valid
// until Close.
func (m *MappedFile) Bytes() []byte {
	return m.data
}

// Close unmaps the file. A MappedFile of a zero-length file has nothing
// to unmap and Close is a no-op.
func (m *MappedFile) Close() error {
	if len(m.data) == 0 {
		return nil
	}
	if err := unix.Munmap(m.data); err != nil {
		return errors.Wrap(err, "planio: munmap")
	}
	return nil
}
