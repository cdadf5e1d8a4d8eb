package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucbrise/mage-sub001/internal/annotator"
	"github.com/ucbrise/mage-sub001/internal/builder"
	"github.com/ucbrise/mage-sub001/internal/placer"
)

func buildAndPlace(t *testing.T, dir string) (progPath, physPath string) {
	t.Helper()
	progPath = filepath.Join(dir, "p.prog")
	b, err := builder.New(progPath, 6, nil)
	require.NoError(t, err)
	x, err := b.Input(0, 64)
	require.NoError(t, err)
	y, err := b.Input(1, 64)
	require.NoError(t, err)
	sum, err := b.Add(x, y)
	require.NoError(t, err)
	require.NoError(t, b.MarkOutput(sum))
	require.NoError(t, b.Close())

	annPath := filepath.Join(dir, "p.ann")
	_, err = annotator.Run(progPath, annPath, 6, nil)
	require.NoError(t, err)

	physPath = filepath.Join(dir, "p.memprog")
	_, err = placer.Run(progPath, annPath, physPath, 8, 6, nil)
	require.NoError(t, err)
	return progPath, physPath
}

func TestDoMainDisassemblesVirtualProgram(t *testing.T) {
	dir := t.TempDir()
	progPath, _ := buildAndPlace(t, dir)

	var stdout, stderr bytes.Buffer
	code := doMain([]string{progPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "input w64")
	require.Contains(t, stdout.String(), "add w64")
	require.Contains(t, stdout.String(), "output range:")
}

func TestDoMainDisassemblesPhysicalProgram(t *testing.T) {
	dir := t.TempDir()
	_, physPath := buildAndPlace(t, dir)

	var stdout, stderr bytes.Buffer
	code := doMain([]string{physPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "swapout page=2")
}

func TestDoMainRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var stdout, stderr bytes.Buffer
	code := doMain([]string{path}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "could not infer bytecode type")
}

func TestDoMainRequiresExactlyOneArg(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain(nil, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "Usage")
}
