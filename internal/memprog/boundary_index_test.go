package memprog

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundaryIndex(t *testing.T) {
	tests := [][]uint64{
		{},
		{0},
		{1, 2, 3, 4, 5, 6, 7, 8, 9},
		{16: 1},
		{17: math.MaxUint16 + 1},
		{21: 10, 22: math.MaxUint16},
		{0: 42, 100: math.MaxUint64},
		{0: 42, 1: math.MaxUint32, 101: math.MaxUint64},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("len=%d", len(test)), func(t *testing.T) {
			idx := newBoundaryIndex(test)
			require.Equal(t, len(test), idx.Len())

			for i, v := range test {
				require.Equal(t, v, idx.Index(i))
			}
		})
	}
}

func TestForEachReverseMatchesBoundaryIndex(t *testing.T) {
	path := t.TempDir() + "/chain.prog"
	w, err := Create(path)
	require.NoError(t, err)

	const pageShift = 6
	instr := func(op OpCode, in1, in2, out VirtAddr) {
		require.NoError(t, w.Write(Instruction{Op: op, Width: 64, Input1: in1, Input2: in2, Input3: InvalidVAddr, Output: out}, pageShift))
	}
	instr(Input, InvalidVAddr, InvalidVAddr, 0)
	instr(Input, InvalidVAddr, InvalidVAddr, 64)
	instr(Add, 0, 64, 128)
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	forward, err := r.Instructions()
	require.NoError(t, err)

	var reversed []Instruction
	err = r.ForEachReverse(func(i uint64, in Instruction) error {
		reversed = append(reversed, in)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, reversed, len(forward))
	for i, in := range reversed {
		require.Equal(t, forward[len(forward)-1-i], in)
	}
}
