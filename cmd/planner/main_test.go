package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucbrise/mage-sub001/internal/builder"
)

func writeTestProgram(t *testing.T, path string) {
	t.Helper()
	b, err := builder.New(path, 6, nil)
	require.NoError(t, err)
	x, err := b.Input(0, 64)
	require.NoError(t, err)
	y, err := b.Input(1, 64)
	require.NoError(t, err)
	sum, err := b.Add(x, y)
	require.NoError(t, err)
	require.NoError(t, b.MarkOutput(sum))
	require.NoError(t, b.Close())
}

func TestDoMainRunsPipelineAndReportsStats(t *testing.T) {
	dir := t.TempDir()
	progPath := filepath.Join(dir, "p.prog")
	writeTestProgram(t, progPath)

	outPath := filepath.Join(dir, "p.memprog")
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"-o", outPath, progPath, "8", "6"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "cache_hit=false")
}

func TestDoMainRejectsTooFewArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"only-one-arg"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "Usage")
}

func TestDoMainUsageFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"-h"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stderr.String(), "Usage")
}

func TestDoMainRejectsCapacityBelowMinimum(t *testing.T) {
	dir := t.TempDir()
	progPath := filepath.Join(dir, "p.prog")
	writeTestProgram(t, progPath)

	var stdout, stderr bytes.Buffer
	code := doMain([]string{progPath, "1", "6"}, &stdout, &stderr)
	require.Equal(t, 2, code)
}

func TestDoMainWithCacheDirHitsOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	progPath := filepath.Join(dir, "p.prog")
	writeTestProgram(t, progPath)
	cacheDir := filepath.Join(dir, "cache")
	outPath := filepath.Join(dir, "p.memprog")

	var stdout1, stderr1 bytes.Buffer
	code := doMain([]string{"-o", outPath, "-cachedir", cacheDir, progPath, "8", "6"}, &stdout1, &stderr1)
	require.Equal(t, 0, code, stderr1.String())
	require.Contains(t, stdout1.String(), "cache_hit=false")

	var stdout2, stderr2 bytes.Buffer
	code = doMain([]string{"-o", outPath, "-cachedir", cacheDir, progPath, "8", "6"}, &stdout2, &stderr2)
	require.Equal(t, 0, code, stderr2.String())
	require.Contains(t, stdout2.String(), "cache_hit=true")
}
