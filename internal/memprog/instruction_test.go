package memprog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucbrise/mage-sub001/internal/memprog"
)

func TestInstructionEncodeDecodeRoundTrip(t *testing.T) {
	tests := []memprog.Instruction{
		{Op: memprog.Input, Width: 64, Input1: memprog.InvalidVAddr, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: 128, Constant: 1},
		{Op: memprog.PublicConstant, Width: 32, Input1: memprog.InvalidVAddr, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: 256, Constant: 42},
		{Op: memprog.Add, Width: 64, Input1: 0, Input2: 64, Input3: memprog.InvalidVAddr, Output: 128},
		{Op: memprog.Select, Width: 64, Input1: 0, Input2: 64, Input3: 128, Output: 192},
		{Op: memprog.Output, Width: 64, Input1: 0, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: memprog.InvalidVAddr},
		{Op: memprog.BufferSend, Width: 16, Input1: 0, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: memprog.InvalidVAddr, Constant: 3},
		{Op: memprog.PostReceive, Width: 16, Input1: memprog.InvalidVAddr, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: 512, Constant: 3},
	}

	for _, in := range tests {
		t.Run(in.Op.String(), func(t *testing.T) {
			buf := in.Encode(nil)
			require.Equal(t, in.Size(), len(buf))

			decoded, n, err := memprog.Decode(buf)
			require.NoError(t, err)
			require.Equal(t, len(buf), n)
			require.Equal(t, in, decoded)
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	in := memprog.Instruction{Op: memprog.Add, Width: 64, Input1: 0, Input2: 64, Input3: memprog.InvalidVAddr, Output: 128}
	buf := in.Encode(nil)

	_, _, err := memprog.Decode(buf[:len(buf)-1])
	require.Error(t, err)
}

func TestInputPageRangesMergesAdjacent(t *testing.T) {
	const pageShift = 12 // 4096-bit pages
	in := memprog.Instruction{
		Op:     memprog.Add,
		Width:  8,
		Input1: 0,              // page 0
		Input2: 1 << pageShift, // page 1, immediately adjacent to page 0
		Input3: memprog.InvalidVAddr,
		Output: 2 << pageShift,
	}
	ranges := in.InputPageRanges(pageShift)
	require.Len(t, ranges, 1)
	require.Equal(t, memprog.PageRange{Start: 0, End: 1}, ranges[0])
}

func TestInputPageRangesKeepsDisjointSeparate(t *testing.T) {
	const pageShift = 12
	in := memprog.Instruction{
		Op:     memprog.Add,
		Width:  8,
		Input1: 0,
		Input2: 10 << pageShift,
		Input3: memprog.InvalidVAddr,
		Output: memprog.InvalidVAddr,
	}
	ranges := in.InputPageRanges(pageShift)
	require.Len(t, ranges, 2)
}

func TestOutputPageRangeNoOutput(t *testing.T) {
	in := memprog.Instruction{Op: memprog.Output, Width: 64, Input1: 0, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: memprog.InvalidVAddr}
	_, ok := in.OutputPageRange(12)
	require.False(t, ok)
}
