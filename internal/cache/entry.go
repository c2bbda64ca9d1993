package cache

import (
	"fmt"
	"time"

	"github.com/objectfs/tiercache/pkg/errors"
)

// Entry is a cached value with its timing metadata. Entries are never
// mutated after creation; every write builds a new one.
type Entry[T any] struct {
	Value     T         `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// StaleAt is zero when the preset has no stale window.
	StaleAt time.Time `json:"stale_at"`
}

// NewEntry builds an entry created at now under the given preset.
func NewEntry[T any](value T, now time.Time, preset Preset) Entry[T] {
	e := Entry[T]{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(preset.MaxAge),
	}
	if preset.StaleWindow > 0 {
		e.StaleAt = now.Add(preset.MaxAge - preset.StaleWindow)
	}
	return e
}

// Expired reports whether the entry must no longer be served.
func (e Entry[T]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stale reports whether the entry has crossed its staleness threshold.
func (e Entry[T]) Stale(now time.Time) bool {
	return !e.StaleAt.IsZero() && now.After(e.StaleAt)
}

// consistent checks the timestamp ordering of a decoded record.
func (e Entry[T]) consistent() bool {
	if e.CreatedAt.IsZero() || e.ExpiresAt.Before(e.CreatedAt) {
		return false
	}
	if e.StaleAt.IsZero() {
		return true
	}
	return !e.StaleAt.Before(e.CreatedAt) && !e.ExpiresAt.Before(e.StaleAt)
}

// Preset bundles the sizing and freshness policy of a namespace.
type Preset struct {
	MaxAge      time.Duration `yaml:"max_age" json:"max_age"`
	MaxEntries  int           `yaml:"max_entries" json:"max_entries"`
	StaleWindow time.Duration `yaml:"stale_window,omitempty" json:"stale_window,omitempty"`
	Persist     bool          `yaml:"persist" json:"persist"`
}

// Validate checks the preset invariants.
func (p Preset) Validate() error {
	switch {
	case p.MaxAge <= 0:
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("max_age must be positive, got %v", p.MaxAge))
	case p.MaxEntries <= 0:
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("max_entries must be positive, got %d", p.MaxEntries))
	case p.StaleWindow < 0:
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("stale_window must not be negative, got %v", p.StaleWindow))
	case p.StaleWindow >= p.MaxAge:
		return errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("stale_window (%v) must be shorter than max_age (%v)", p.StaleWindow, p.MaxAge))
	}
	return nil
}

// Named presets.
const (
	PresetShort  = "short"
	PresetMedium = "medium"
	PresetLong   = "long"
)

// DefaultPresets returns the built-in presets. The map is a fresh copy.
func DefaultPresets() map[string]Preset {
	return map[string]Preset{
		PresetShort: {
			MaxAge:     time.Minute,
			MaxEntries: 100,
		},
		PresetMedium: {
			MaxAge:      5 * time.Minute,
			MaxEntries:  50,
			StaleWindow: 2 * time.Minute,
			Persist:     true,
		},
		PresetLong: {
			MaxAge:     time.Hour,
			MaxEntries: 25,
			Persist:    true,
		},
	}
}
