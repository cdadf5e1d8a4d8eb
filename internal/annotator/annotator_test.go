package annotator_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucbrise/mage-sub001/internal/annotator"
	"github.com/ucbrise/mage-sub001/internal/memprog"
)

// buildLinearProgram constructs:
//
//	0: x = input(party 0)           @0
//	1: y = input(party 1)           @64
//	2: t = add(x, y)                @128   (x and y never used again)
//	3: output(t)                            (t is a live output)
//
// all operands one page wide under a page_shift large enough that each
// 64-bit value occupies its own page, so next-use reasoning is easy to
// check by hand.
func buildLinearProgram(t *testing.T, path string) (pageShift uint8) {
	t.Helper()
	pageShift = 6 // 64-bit pages

	w, err := memprog.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(memprog.Instruction{Op: memprog.Input, Width: 64, Input1: memprog.InvalidVAddr, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: 0}, pageShift))
	require.NoError(t, w.Write(memprog.Instruction{Op: memprog.Input, Width: 64, Input1: memprog.InvalidVAddr, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: 64}, pageShift))
	require.NoError(t, w.Write(memprog.Instruction{Op: memprog.Add, Width: 64, Input1: 0, Input2: 64, Input3: memprog.InvalidVAddr, Output: 128}, pageShift))
	require.NoError(t, w.Write(memprog.Instruction{Op: memprog.Output, Width: 64, Input1: 128, Input2: memprog.InvalidVAddr, Input3: memprog.InvalidVAddr, Output: memprog.InvalidVAddr}, pageShift))
	w.AddOutputRange(128, 64)
	require.NoError(t, w.Close())
	return pageShift
}

func TestAnnotatorRunProducesForwardAlignedRecords(t *testing.T) {
	dir := t.TempDir()
	progPath := filepath.Join(dir, "linear.prog")
	pageShift := buildLinearProgram(t, progPath)

	annPath := filepath.Join(dir, "linear.ann")
	peak, err := annotator.Run(progPath, annPath, pageShift, nil)
	require.NoError(t, err)
	require.Greater(t, peak, uint64(0))

	records, err := annotator.ReadAll(annPath)
	require.NoError(t, err)
	require.Len(t, records, 4)

	// Instruction 0 (input x @ page 0): next use is instruction 2 (add).
	require.Equal(t, []uint64{2}, records[0].OutputNextUse)
	// Instruction 1 (input y @ page 1): next use is instruction 2 (add).
	require.Equal(t, []uint64{2}, records[1].OutputNextUse)
	// Instruction 2 (add): both inputs (x, y) are never used again after this.
	require.Equal(t, []uint64{annotator.Never, annotator.Never}, records[2].InputNextUse)
	// Its output (t @ page 2) is read once more, by the output instruction.
	require.Equal(t, []uint64{3}, records[2].OutputNextUse)
	// Instruction 3 (output t): t is a declared live output.
	require.Equal(t, []uint64{annotator.LiveOutput}, records[3].InputNextUse)
}

func TestUnreverseIsInverseOfWriteReverse(t *testing.T) {
	dir := t.TempDir()
	progPath := filepath.Join(dir, "linear.prog")
	pageShift := buildLinearProgram(t, progPath)

	prog, err := memprog.Open(progPath)
	require.NoError(t, err)
	defer prog.Close()

	var reverseBuf, forwardBuf bufferWriter
	_, err = annotator.WriteReverse(prog, pageShift, &reverseBuf)
	require.NoError(t, err)

	require.NoError(t, annotator.Unreverse(reverseBuf.data, &forwardBuf))

	forward, err := decodeAll(forwardBuf.data)
	require.NoError(t, err)
	require.Len(t, forward, 4)
	require.Equal(t, []uint64{annotator.LiveOutput}, forward[3].InputNextUse)
}

type bufferWriter struct {
	data []byte
}

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func decodeAll(data []byte) ([]annotator.Record, error) {
	var records []annotator.Record
	pos := 0
	for pos < len(data) {
		rec, n, err := annotator.Decode(data[pos:])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		pos += n
	}
	return records, nil
}
