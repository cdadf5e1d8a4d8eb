package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucbrise/mage-sub001/internal/config"
)

func TestNewHasDefaultPageShift(t *testing.T) {
	c := config.New(8)
	require.EqualValues(t, 8, c.CapacityPages())
	require.EqualValues(t, 12, c.PageShift())
	require.Empty(t, c.CacheDir())
}

func TestWithMethodsReturnIndependentClones(t *testing.T) {
	base := config.New(8)
	shifted := base.WithPageShift(16)
	cached := base.WithCacheDir("/tmp/plancache")

	require.EqualValues(t, 12, base.PageShift())
	require.EqualValues(t, 16, shifted.PageShift())
	require.Empty(t, base.CacheDir())
	require.Equal(t, "/tmp/plancache", cached.CacheDir())
	require.Empty(t, shifted.CacheDir())
}

func TestValidateRejectsBelowMinimumCapacity(t *testing.T) {
	c := config.New(config.MinCapacityPages - 1)
	require.Error(t, c.Validate())
}

func TestValidateAcceptsMinimumCapacity(t *testing.T) {
	c := config.New(config.MinCapacityPages)
	require.NoError(t, c.Validate())
}

func TestValidateRejectsOutOfRangePageShift(t *testing.T) {
	c := config.New(config.MinCapacityPages).WithPageShift(0)
	require.Error(t, c.Validate())

	c2 := config.New(config.MinCapacityPages).WithPageShift(62)
	require.Error(t, c2.Validate())
}
