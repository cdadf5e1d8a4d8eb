package memprog_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucbrise/mage-sub001/internal/memprog"
)

func writeSampleProgram(t *testing.T, path string) []memprog.Instruction {
	t.Helper()
	const pageShift = 12

	instrs := []memprog.Instruction{
		{Op: memprog.Input, Width: 64, Input1: memprog.InvalidVAddr, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: 0, Constant: 0},
		{Op: memprog.Input, Width: 64, Input1: memprog.InvalidVAddr, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: 64, Constant: 1},
		{Op: memprog.Add, Width: 64, Input1: 0, Input2: 64, Input3: memprog.InvalidVAddr, Output: 128},
		{Op: memprog.Output, Width: 64, Input1: 128, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: memprog.InvalidVAddr},
	}

	w, err := memprog.Create(path)
	require.NoError(t, err)
	for _, in := range instrs {
		require.NoError(t, w.Write(in, pageShift))
	}
	w.AddOutputRange(128, 64)
	require.NoError(t, w.Close())
	return instrs
}

func TestProgramRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.prog")
	want := writeSampleProgram(t, path)

	r, err := memprog.Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, uint64(len(want)), r.Header.NumInstructions)
	require.Len(t, r.Ranges, 1)
	require.Equal(t, memprog.OutputRange{Start: 128, End: 192}, r.Ranges[0])

	got, err := r.Instructions()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestProgramForEachForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.prog")
	want := writeSampleProgram(t, path)

	r, err := memprog.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var seen []memprog.Instruction
	err = r.ForEach(func(i uint64, in memprog.Instruction) error {
		require.Equal(t, uint64(len(seen)), i)
		seen = append(seen, in)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, want, seen)
}

func TestProgramForEachReverse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.prog")
	want := writeSampleProgram(t, path)

	r, err := memprog.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var seenIdx []uint64
	var seen []memprog.Instruction
	err = r.ForEachReverse(func(i uint64, in memprog.Instruction) error {
		seenIdx = append(seenIdx, i)
		seen = append(seen, in)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seen, len(want))
	for k, idx := range seenIdx {
		require.Equal(t, want[idx], seen[k])
	}
	// Strictly descending.
	for k := 1; k < len(seenIdx); k++ {
		require.Less(t, seenIdx[k], seenIdx[k-1])
	}
}

func TestOutputRangeCoalescing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coalesce.prog")
	w, err := memprog.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(memprog.Instruction{Op: memprog.Output, Width: 8, Input1: 0, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: memprog.InvalidVAddr}, 12))
	w.AddOutputRange(0, 8)
	w.AddOutputRange(8, 8)
	w.AddOutputRange(100, 8) // not contiguous, stays separate
	require.NoError(t, w.Close())

	r, err := memprog.Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, []memprog.OutputRange{
		{Start: 0, End: 16},
		{Start: 100, End: 108},
	}, r.Ranges)
}
