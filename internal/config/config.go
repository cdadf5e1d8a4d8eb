// Package config defines PlannerConfig, the immutable, clone-on-write
// options object the planner CLI and plan cache build from flags: the
// same With*-returns-a-clone shape as the teacher's RuntimeConfig in
// config.go, adapted from "which wasm engine and feature set" knobs to
// "how many physical pages and what page size."
package config

import (
	"github.com/ucbrise/mage-sub001/internal/diag"
)

// defaultPageShift of 12 gives 4096-bit pages (page size counts bits,
// since virtual addresses are bit offsets), a conventional choice with
// no special meaning beyond matching the number of common host page sizes.
const defaultPageShift = 12

// MinCapacityPages mirrors placer.MinCapacityPages; duplicated here
// (rather than imported) so this package stays free of a dependency on
// internal/placer, which itself doesn't need to know about config.
const MinCapacityPages = 4

// PlannerConfig controls one planner run. The zero value is not usable;
// construct with New.
type PlannerConfig struct {
	capacityPages uint64
	pageShift     uint8
	cacheDir      string
}

// defaultConfig is cloned by New and every With* call, so adding a field
// can't accidentally leave some construction path with a stale zero
// value (the same defensive-default pattern as the teacher's
// engineLessConfig).
var defaultConfig = &PlannerConfig{
	pageShift: defaultPageShift,
}

// New returns a PlannerConfig with capacityPages pages of resident
// space and every other knob at its default.
func New(capacityPages uint64) *PlannerConfig {
	c := defaultConfig.clone()
	c.capacityPages = capacityPages
	return c
}

func (c *PlannerConfig) clone() *PlannerConfig {
	return &PlannerConfig{
		capacityPages: c.capacityPages,
		pageShift:     c.pageShift,
		cacheDir:      c.cacheDir,
	}
}

// WithPageShift sets page size to 1<<shift bits.
func (c *PlannerConfig) WithPageShift(shift uint8) *PlannerConfig {
	ret := c.clone()
	ret.pageShift = shift
	return ret
}

// WithCacheDir enables the plan cache, storing completed physical
// bytecode files under dir. An empty dir (the default) disables caching.
func (c *PlannerConfig) WithCacheDir(dir string) *PlannerConfig {
	ret := c.clone()
	ret.cacheDir = dir
	return ret
}

// CapacityPages returns the configured resident-set size, in pages.
func (c *PlannerConfig) CapacityPages() uint64 { return c.capacityPages }

// PageShift returns the configured page size as a shift amount.
func (c *PlannerConfig) PageShift() uint8 { return c.pageShift }

// CacheDir returns the configured plan cache directory, or "" if caching
// is disabled.
func (c *PlannerConfig) CacheDir() string { return c.cacheDir }

// Validate checks the invariants the placer and allocator assume hold
// before a run starts (spec §7): a capacity of at least MinCapacityPages
// pages, and a page shift that leaves at least one addressable bit of
// in-page offset.
func (c *PlannerConfig) Validate() error {
	if c.capacityPages < MinCapacityPages {
		return diag.Newf(diag.ConfigError, "config: capacity %d pages is below the minimum of %d", c.capacityPages, MinCapacityPages)
	}
	if c.pageShift == 0 || c.pageShift >= 62 {
		return diag.Newf(diag.ConfigError, "config: page_shift %d is out of range", c.pageShift)
	}
	return nil
}
