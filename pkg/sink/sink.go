// Package sink delivers suggestions to the time detection authority.
package sink

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitztz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/suggest"
)

// Log writes suggestions to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging sink; nil means slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// SuggestDeviceTime logs a time suggestion.
func (l *Log) SuggestDeviceTime(s suggest.TimeSuggestion) {
	if s.IsEmpty() {
		l.logger.Info("time suggestion withdrawn", "slot", s.SlotIndex)
		return
	}
	l.logger.Info("time suggestion",
		"slot", s.SlotIndex,
		"utc_millis", s.UTCTime.UTCMillis,
		"reference_millis", s.UTCTime.ReferenceMillis,
	)
}

// SuggestDeviceTimeZone logs a time zone suggestion.
func (l *Log) SuggestDeviceTimeZone(s suggest.TimeZoneSuggestion) {
	if s.IsEmpty() {
		l.logger.Info("time zone suggestion withdrawn", "slot", s.SlotIndex,
			"debug", strings.Join(s.DebugInfo, "; "))
		return
	}
	l.logger.Info("time zone suggestion",
		"slot", s.SlotIndex,
		"zone_id", s.ZoneID,
		"match_type", s.MatchType.String(),
		"quality", s.Quality.String(),
		"debug", strings.Join(s.DebugInfo, "; "),
	)
}

// Multi fans suggestions out to several sinks in order.
type Multi []nitztz.Sink

// SuggestDeviceTime forwards to every sink.
func (m Multi) SuggestDeviceTime(s suggest.TimeSuggestion) {
	for _, t := range m {
		t.SuggestDeviceTime(s)
	}
}

// SuggestDeviceTimeZone forwards to every sink.
func (m Multi) SuggestDeviceTimeZone(s suggest.TimeZoneSuggestion) {
	for _, t := range m {
		t.SuggestDeviceTimeZone(s)
	}
}

// Dedup forwards a suggestion only when it differs from the last one
// forwarded for the same slot. Debug trails are not compared.
type Dedup struct {
	next      nitztz.Sink
	times     map[int]suggest.TimeSuggestion
	timeZones map[int]suggest.TimeZoneSuggestion
	mu        sync.Mutex
}

// NewDedup wraps next.
func NewDedup(next nitztz.Sink) *Dedup {
	return &Dedup{
		next:      next,
		times:     make(map[int]suggest.TimeSuggestion),
		timeZones: make(map[int]suggest.TimeZoneSuggestion),
	}
}

// SuggestDeviceTime forwards s unless it repeats the previous one.
func (d *Dedup) SuggestDeviceTime(s suggest.TimeSuggestion) {
	d.mu.Lock()
	last, seen := d.times[s.SlotIndex]
	if seen && last.Equal(s) {
		d.mu.Unlock()
		return
	}
	d.times[s.SlotIndex] = s
	d.mu.Unlock()
	d.next.SuggestDeviceTime(s)
}

// SuggestDeviceTimeZone forwards s unless it repeats the previous one.
func (d *Dedup) SuggestDeviceTimeZone(s suggest.TimeZoneSuggestion) {
	d.mu.Lock()
	last, seen := d.timeZones[s.SlotIndex]
	if seen && last.Equal(s) {
		d.mu.Unlock()
		return
	}
	d.timeZones[s.SlotIndex] = s
	d.mu.Unlock()
	d.next.SuggestDeviceTimeZone(s)
}
