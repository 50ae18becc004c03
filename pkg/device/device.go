// Package device exposes the clocks and NITZ settings of the handset.
package device

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default thresholds, matching the platform defaults for NITZ updates.
const (
	DefaultNITZUpdateSpacingMillis int32 = 10 * 60 * 1000
	DefaultNITZUpdateDiffMillis    int32 = 2000
)

// State is what the decision engine needs to know about the device.
type State interface {
	// ElapsedRealtimeMillis is a monotonic clock, unaffected by wall-clock changes.
	ElapsedRealtimeMillis() int64
	// CurrentTimeMillis is the wall clock.
	CurrentTimeMillis() int64
	// IgnoreNITZ is the policy switch that disables NITZ entirely.
	IgnoreNITZ() bool
	// NITZUpdateSpacingMillis is the minimum spacing between processed signals.
	NITZUpdateSpacingMillis() int32
	// NITZUpdateDiffMillis is the minimum UTC difference that overrides spacing.
	NITZUpdateDiffMillis() int32
}

// Clocked implements State on top of a clockwork.Clock. Elapsed realtime is
// the time since construction. Settings are safe to change concurrently.
type Clocked struct {
	clock      clockwork.Clock
	boot       time.Time
	mu         sync.RWMutex
	spacing    int32
	diff       int32
	ignoreNITZ bool
}

// NewClocked creates a device state; a nil clock means the real clock.
func NewClocked(clock clockwork.Clock) *Clocked {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Clocked{
		clock:   clock,
		boot:    clock.Now(),
		spacing: DefaultNITZUpdateSpacingMillis,
		diff:    DefaultNITZUpdateDiffMillis,
	}
}

// ElapsedRealtimeMillis returns milliseconds since construction.
func (d *Clocked) ElapsedRealtimeMillis() int64 {
	return d.clock.Since(d.boot).Milliseconds()
}

// CurrentTimeMillis returns the clock's wall time.
func (d *Clocked) CurrentTimeMillis() int64 {
	return d.clock.Now().UnixMilli()
}

// IgnoreNITZ reports the ignore policy.
func (d *Clocked) IgnoreNITZ() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ignoreNITZ
}

// NITZUpdateSpacingMillis returns the spacing threshold.
func (d *Clocked) NITZUpdateSpacingMillis() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spacing
}

// NITZUpdateDiffMillis returns the difference threshold.
func (d *Clocked) NITZUpdateDiffMillis() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.diff
}

// SetIgnoreNITZ switches the ignore policy.
func (d *Clocked) SetIgnoreNITZ(ignore bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ignoreNITZ = ignore
}

// SetThresholds replaces both rate-limit thresholds.
func (d *Clocked) SetThresholds(spacingMillis, diffMillis int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spacing = spacingMillis
	d.diff = diffMillis
}
