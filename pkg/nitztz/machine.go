// Package nitztz sequences NITZ and country events for one radio slot and
// emits time and time zone suggestions.
package nitztz

import (
	"log/slog"
	"sync"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/filter"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/suggest"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

// Sink receives every computed suggestion, including repeats.
type Sink interface {
	SuggestDeviceTime(suggest.TimeSuggestion)
	SuggestDeviceTimeZone(suggest.TimeZoneSuggestion)
}

// Observer is told about filter decisions and emissions.
type Observer interface {
	SignalEvaluated(slot int, sig nitz.Signal, d filter.Decision)
	TimeSuggested(suggest.TimeSuggestion)
	TimeZoneSuggested(suggest.TimeZoneSuggestion)
}

type nopObserver struct{}

func (nopObserver) SignalEvaluated(int, nitz.Signal, filter.Decision) {}
func (nopObserver) TimeSuggested(suggest.TimeSuggestion)              {}
func (nopObserver) TimeZoneSuggested(suggest.TimeZoneSuggestion)      {}

var defaultLookup = sync.OnceValue(func() *tzlookup.Lookup {
	return tzlookup.MustNew()
})

// Snapshot is a copy of a machine's cached state.
type Snapshot struct {
	NITZ             *nitz.Signal
	Country          suggest.Country
	Slot             int
	NetworkAvailable bool
}

// StateMachine holds the cached state of one slot. It is not safe for
// concurrent use; wrap it in an Actor to serialize events.
type StateMachine struct {
	logger           *slog.Logger
	dev              device.State
	sink             Sink
	observer         Observer
	engine           *suggest.Engine
	filter           *filter.Chain
	cachedNITZ       *nitz.Signal
	country          suggest.Country
	slot             int
	networkAvailable bool
}

// Option configures a StateMachine.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	lookup   *tzlookup.Lookup
	filter   *filter.Chain
	observer Observer
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLookup sets the zone lookup; the default uses the embedded table.
func WithLookup(l *tzlookup.Lookup) Option {
	return func(o *options) {
		o.lookup = l
	}
}

// WithFilter replaces the default filter chain.
func WithFilter(c *filter.Chain) Option {
	return func(o *options) {
		o.filter = c
	}
}

// WithObserver sets an observer, typically metrics.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// New creates a machine for the slot with empty cached state.
func New(slot int, dev device.State, sink Sink, opts ...Option) *StateMachine {
	o := &options{logger: slog.Default(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.lookup == nil {
		o.lookup = defaultLookup()
	}
	logger := o.logger.With("slot", slot)
	if o.filter == nil {
		o.filter = filter.Default(dev, logger)
	}
	return &StateMachine{
		logger:   logger,
		dev:      dev,
		sink:     sink,
		observer: o.observer,
		engine:   suggest.NewEngine(o.lookup, dev.CurrentTimeMillis),
		filter:   o.filter,
		slot:     slot,
	}
}

// Slot returns the slot index.
func (m *StateMachine) Slot() int {
	return m.slot
}

// HandleNetworkAvailable records that the network is back. Nothing is
// emitted until fresh signals arrive.
func (m *StateMachine) HandleNetworkAvailable() {
	m.logger.Debug("network available")
	m.networkAvailable = true
}

// HandleNetworkUnavailable forgets the cached signal but keeps the country.
func (m *StateMachine) HandleNetworkUnavailable() {
	m.logger.Debug("network unavailable")
	m.cachedNITZ = nil
	m.networkAvailable = false
	m.emitTime()
	m.emitTimeZone()
}

// HandleCountryDetected stores the serving country. The empty string is a
// test network.
func (m *StateMachine) HandleCountryDetected(iso string) {
	m.country = suggest.CountryCode(iso)
	m.logger.Debug("country detected", "country", m.country.String())
	m.emitTimeZone()
}

// HandleCountryUnavailable forgets the country.
func (m *StateMachine) HandleCountryUnavailable() {
	m.logger.Debug("country unavailable")
	m.country = suggest.NoCountry
	m.emitTimeZone()
}

// HandleNITZReceived runs the filter and, if the signal is accepted,
// caches it and emits both suggestions.
func (m *StateMachine) HandleNITZReceived(sig nitz.Signal) {
	d := m.filter.Evaluate(m.cachedNITZ, sig)
	m.observer.SignalEvaluated(m.slot, sig, d)
	if !d.Accept {
		m.logger.Debug("NITZ rejected", "nitz", sig.String(), "rule", d.Rule)
		return
	}
	m.logger.Debug("NITZ accepted", "nitz", sig.String(), "rule", d.Rule)
	m.cachedNITZ = &sig
	m.emitTime()
	m.emitTimeZone()
}

// HandleAirplaneModeChanged withdraws every opinion when airplane mode is
// switched on. Switching it off does nothing.
func (m *StateMachine) HandleAirplaneModeChanged(on bool) {
	m.logger.Debug("airplane mode changed", "on", on)
	if !on {
		return
	}
	m.cachedNITZ = nil
	m.country = suggest.NoCountry
	m.networkAvailable = false
	m.emitTime()
	m.emitTimeZone()
}

// CachedNITZ returns the last accepted signal.
func (m *StateMachine) CachedNITZ() (nitz.Signal, bool) {
	if m.cachedNITZ == nil {
		return nitz.Signal{}, false
	}
	return *m.cachedNITZ, true
}

// Snapshot copies the cached state.
func (m *StateMachine) Snapshot() Snapshot {
	s := Snapshot{Slot: m.slot, Country: m.country, NetworkAvailable: m.networkAvailable}
	if m.cachedNITZ != nil {
		sig := *m.cachedNITZ
		s.NITZ = &sig
	}
	return s
}

func (m *StateMachine) emitTime() {
	s := m.engine.TimeSuggestion(m.slot, m.cachedNITZ)
	m.observer.TimeSuggested(s)
	m.sink.SuggestDeviceTime(s)
}

func (m *StateMachine) emitTimeZone() {
	s := m.engine.TimeZoneSuggestion(m.slot, m.country, m.cachedNITZ)
	m.logger.Debug("time zone suggestion", "zone_id", s.ZoneID,
		"match_type", s.MatchType.String(), "quality", s.Quality.String())
	m.observer.TimeZoneSuggested(s)
	m.sink.SuggestDeviceTimeZone(s)
}
