package suggest

import (
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzconvert"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

// Engine computes suggestions. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	lookup *tzlookup.Lookup
	now    func() int64
}

// NewEngine creates an engine. now supplies the wall clock used for
// country-only lookups; nil means time.Now.
func NewEngine(lookup *tzlookup.Lookup, now func() int64) *Engine {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Engine{lookup: lookup, now: now}
}

// TimeZoneSuggestion combines the country and the latest accepted signal.
// sig is nil when no signal is cached.
func (e *Engine) TimeZoneSuggestion(slot int, country Country, sig *nitz.Signal) TimeZoneSuggestion {
	switch {
	case !country.Known() && sig == nil:
		return EmptyTimeZone(slot, "no country and no NITZ")

	case sig != nil && sig.EmulatorZone != "":
		return TimeZoneSuggestion{
			SlotIndex: slot,
			ZoneID:    sig.EmulatorZone,
			MatchType: EmulatorZoneID,
			Quality:   tzlookup.SingleZone,
			DebugInfo: []string{fmt.Sprintf("emulator zone %s from %s", sig.EmulatorZone, sig)},
		}

	case country.IsTestNetwork():
		return e.testNetwork(slot, sig)

	case !country.Known():
		return EmptyTimeZone(slot, fmt.Sprintf("NITZ %s without a country", sig))

	case sig == nil:
		iso, _ := country.ISO()
		return e.countryOnly(slot, iso, e.now(), "no NITZ")

	default:
		iso, _ := country.ISO()
		return e.countryAndOffset(slot, iso, *sig)
	}
}

func (e *Engine) testNetwork(slot int, sig *nitz.Signal) TimeZoneSuggestion {
	if sig == nil {
		return EmptyTimeZone(slot, "test network without NITZ")
	}
	res, ok := e.lookup.ByNITZ(*sig)
	if !ok {
		return EmptyTimeZone(slot, fmt.Sprintf("test network: no zone has %s at %s",
			tzconvert.FormatOffset(sig.LocalOffsetMillis), sig.Time().Format(time.RFC3339)))
	}
	return TimeZoneSuggestion{
		SlotIndex: slot,
		ZoneID:    res.ZoneID,
		MatchType: TestNetworkOffsetOnly,
		Quality:   offsetQuality(res),
		DebugInfo: []string{fmt.Sprintf("test network: %s matched %s (only match: %t)", sig, res.ZoneID, res.IsOnlyMatch)},
	}
}

func (e *Engine) countryOnly(slot int, iso string, atMillis int64, why string) TimeZoneSuggestion {
	res, ok := e.lookup.ByCountry(iso, atMillis)
	if !ok {
		return EmptyTimeZone(slot, why, fmt.Sprintf("country %q is not in the zone table", iso))
	}
	debug := append([]string{why}, res.DebugInfo...)
	return TimeZoneSuggestion{
		SlotIndex: slot,
		ZoneID:    res.DefaultZoneID,
		MatchType: NetworkCountryOnly,
		Quality:   res.Quality,
		DebugInfo: debug,
	}
}

func (e *Engine) countryAndOffset(slot int, iso string, sig nitz.Signal) TimeZoneSuggestion {
	res, ok := e.lookup.ByNITZAndCountry(sig, iso)
	if ok {
		return TimeZoneSuggestion{
			SlotIndex: slot,
			ZoneID:    res.ZoneID,
			MatchType: NetworkCountryAndOffset,
			Quality:   offsetQuality(res),
			DebugInfo: []string{fmt.Sprintf("%s matched %s in %s (only match: %t)", sig, res.ZoneID, iso, res.IsOnlyMatch)},
		}
	}

	why := fmt.Sprintf("bogus NITZ %s: no zone of %s has %s", sig, iso, tzconvert.FormatOffset(sig.LocalOffsetMillis))
	if sig.LocalOffsetMillis == 0 && !e.lookup.CountryUsesUTC(iso, sig.UTCMillis) {
		why += " (zero offset in a country not on UTC)"
	}

	fallback := e.countryOnly(slot, iso, sig.UTCMillis, why)
	switch fallback.Quality {
	case tzlookup.SingleZone, tzlookup.DefaultBoosted:
		return fallback
	default:
		return EmptyTimeZone(slot, append(fallback.DebugInfo, "no trustworthy default to fall back to")...)
	}
}

func offsetQuality(res tzlookup.OffsetResult) tzlookup.Quality {
	if res.IsOnlyMatch {
		return tzlookup.SingleZone
	}
	return tzlookup.MultipleZonesSameOffset
}

// TimeSuggestion carries the signal's time verbatim. sig is nil when no
// signal is cached.
func (e *Engine) TimeSuggestion(slot int, sig *nitz.Signal) TimeSuggestion {
	if sig == nil {
		return TimeSuggestion{SlotIndex: slot, DebugInfo: []string{"no NITZ"}}
	}
	return TimeSuggestion{
		SlotIndex: slot,
		UTCTime:   &UTCTime{ReferenceMillis: sig.ReceivedAtMillis, UTCMillis: sig.UTCMillis},
		DebugInfo: []string{"from " + sig.String()},
	}
}
