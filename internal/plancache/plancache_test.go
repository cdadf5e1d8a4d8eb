package plancache_test

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucbrise/mage-sub001/internal/plancache"
)

func TestKeyOfDependsOnCapacityAndPageShift(t *testing.T) {
	prog := []byte("some program bytes")
	k1 := plancache.KeyOf(prog, 8, 12)
	k2 := plancache.KeyOf(prog, 16, 12)
	k3 := plancache.KeyOf(prog, 8, 13)
	require.NotEqual(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Equal(t, k1, plancache.KeyOf(prog, 8, 12))
}

func TestFileCacheMissThenAddThenHit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	fc := plancache.NewFileCache(dir)
	key := plancache.KeyOf([]byte("prog"), 8, 12)

	_, ok, err := fc.Get(key)
	require.NoError(t, err)
	require.False(t, ok)

	content := []byte("physical bytecode bytes")
	require.NoError(t, fc.Add(key, bytes.NewReader(content)))

	r, ok, err := fc.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, content, got)
}

func TestFileCacheAddOverwritesExistingEntry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	fc := plancache.NewFileCache(dir)
	key := plancache.KeyOf([]byte("prog"), 8, 12)

	require.NoError(t, fc.Add(key, bytes.NewReader([]byte("first"))))
	require.NoError(t, fc.Add(key, bytes.NewReader([]byte("second"))))

	r, ok, err := fc.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, []byte("second"), got)
}
