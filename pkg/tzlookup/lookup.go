// Package tzlookup maps countries and NITZ offsets to IANA time zones.
package tzlookup

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"
	_ "time/tzdata" // zone rules travel with the binary

	"github.com/maypok86/otter/v2"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzconvert"
)

// Lookup answers zone questions against a country table.
// It is safe for concurrent use.
type Lookup struct {
	logger    *slog.Logger
	locations *otter.Cache[string, *time.Location]
	countries map[string]country
	allZones  []string // every zone in the table, sorted by id
}

// Option configures a Lookup.
type Option func(*options)

type options struct {
	logger *slog.Logger
	table  io.Reader
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTable replaces the embedded country table with another YAML table.
func WithTable(r io.Reader) Option {
	return func(o *options) {
		o.table = r
	}
}

// New loads and validates the country table. Every zone must be known to
// the zone database.
func New(opts ...Option) (*Lookup, error) {
	o := &options{logger: slog.Default(), table: embeddedTable()}
	for _, opt := range opts {
		opt(o)
	}

	countries, err := parseTable(o.table)
	if err != nil {
		return nil, err
	}

	l := &Lookup{
		logger:    o.logger,
		countries: countries,
		locations: otter.Must(&otter.Options[string, *time.Location]{
			MaximumSize:     1024,
			InitialCapacity: 128,
		}),
	}

	unique := make(map[string]bool)
	for iso, c := range countries {
		for _, z := range c.zones {
			if _, err := l.location(z.id); err != nil {
				return nil, fmt.Errorf("%w: country %q: %w", ErrInvalidTable, iso, err)
			}
			unique[z.id] = true
		}
	}
	for id := range unique {
		l.allZones = append(l.allZones, id)
	}
	sort.Strings(l.allZones)

	l.logger.Debug("zone lookup ready", "countries", len(countries), "zones", len(l.allZones))
	return l, nil
}

// MustNew is New for the embedded table, which is validated by tests.
func MustNew(opts ...Option) *Lookup {
	l, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Lookup) location(id string) (*time.Location, error) {
	if loc, ok := l.locations.GetIfPresent(id); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("loading zone %s: %w", id, err)
	}
	l.locations.Set(id, loc)
	return loc, nil
}

// offsetAt returns the zone's offset and DST state; ok is false for zones
// the database no longer knows.
func (l *Lookup) offsetAt(id string, atMillis int64) (offsetMillis int32, isDST, ok bool) {
	loc, err := l.location(id)
	if err != nil {
		l.logger.Warn("zone lookup skipped unknown zone", "zone_id", id, "error", err)
		return 0, false, false
	}
	offsetMillis, isDST = tzconvert.ZoneOffsetAt(loc, atMillis)
	return offsetMillis, isDST, true
}

// Countries returns the known ISO codes, sorted.
func (l *Lookup) Countries() []string {
	out := make([]string, 0, len(l.countries))
	for iso := range l.countries {
		out = append(out, iso)
	}
	sort.Strings(out)
	return out
}

func (l *Lookup) effectiveZones(c country, atMillis int64) []string {
	var ids []string
	for _, z := range c.zones {
		if z.effectiveAt(atMillis) {
			ids = append(ids, z.id)
		}
	}
	return ids
}

// ByCountry classifies the country's zones at the given instant.
// The second result is false for countries missing from the table.
func (l *Lookup) ByCountry(iso string, atMillis int64) (CountryResult, bool) {
	c, ok := l.countries[normalizeISO(iso)]
	if !ok {
		return CountryResult{}, false
	}

	effective := l.effectiveZones(c, atMillis)
	at := time.UnixMilli(atMillis).UTC().Format(time.RFC3339)
	res := CountryResult{
		DefaultZoneID:    c.defaultZone,
		EffectiveZoneIDs: effective,
		DebugInfo: []string{
			fmt.Sprintf("country %s has %d effective zone(s) of %d at %s", c.iso, len(effective), len(c.zones), at),
		},
	}

	switch {
	case len(effective) == 1:
		res.Quality = SingleZone
	case c.boost:
		res.Quality = DefaultBoosted
		res.DebugInfo = append(res.DebugInfo, fmt.Sprintf("default %s is boosted", c.defaultZone))
	default:
		first, _, _ := l.offsetAt(effective[0], atMillis)
		res.Quality = MultipleZonesSameOffset
		for _, id := range effective[1:] {
			if off, _, _ := l.offsetAt(id, atMillis); off != first {
				res.Quality = MultipleZonesDifferentOffsets
				res.DebugInfo = append(res.DebugInfo, fmt.Sprintf("%s is %s but %s is %s",
					effective[0], tzconvert.FormatOffset(first), id, tzconvert.FormatOffset(off)))
				break
			}
		}
	}
	res.DebugInfo = append(res.DebugInfo, "quality "+res.Quality.String())
	return res, true
}

// matches reports whether the zone agrees with the signal's offset and,
// when the network sent it, its DST state.
func (l *Lookup) matches(id string, sig nitz.Signal) bool {
	offset, isDST, ok := l.offsetAt(id, sig.UTCMillis)
	if !ok || offset != sig.LocalOffsetMillis {
		return false
	}
	if dst, known := sig.DSTAdjustment(); known && isDST != (dst != 0) {
		return false
	}
	return true
}

func (l *Lookup) firstMatch(ids []string, sig nitz.Signal) (OffsetResult, bool) {
	var res OffsetResult
	count := 0
	for _, id := range ids {
		if !l.matches(id, sig) {
			continue
		}
		if count == 0 {
			res.ZoneID = id
		}
		count++
	}
	if count == 0 {
		return OffsetResult{}, false
	}
	res.IsOnlyMatch = count == 1
	return res, true
}

// ByNITZ finds a zone matching the signal without using a country. All zones
// in the table are candidates; ties go to the lexicographically smallest id.
func (l *Lookup) ByNITZ(sig nitz.Signal) (OffsetResult, bool) {
	return l.firstMatch(l.allZones, sig)
}

// ByNITZAndCountry finds a zone of the country matching the signal. Only
// zones effective at the signal's instant are candidates; ties go to the
// zone listed first in the table.
func (l *Lookup) ByNITZAndCountry(sig nitz.Signal, iso string) (OffsetResult, bool) {
	c, ok := l.countries[normalizeISO(iso)]
	if !ok {
		return OffsetResult{}, false
	}
	return l.firstMatch(l.effectiveZones(c, sig.UTCMillis), sig)
}

// CountryUsesUTC reports whether any effective zone of the country has a
// zero offset at the given instant.
func (l *Lookup) CountryUsesUTC(iso string, atMillis int64) bool {
	c, ok := l.countries[normalizeISO(iso)]
	if !ok {
		return false
	}
	for _, id := range l.effectiveZones(c, atMillis) {
		if off, _, ok := l.offsetAt(id, atMillis); ok && off == 0 {
			return true
		}
	}
	return false
}
