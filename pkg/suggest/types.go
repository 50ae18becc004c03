// Package suggest turns the latest NITZ signal and network country into
// time and time zone suggestions.
package suggest

import (
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

// MatchType names the inputs that produced a time zone suggestion.
type MatchType int

const (
	// MatchUnknown is the zero value, used by empty suggestions.
	MatchUnknown MatchType = iota
	// NetworkCountryOnly means only the country was used.
	NetworkCountryOnly
	// NetworkCountryAndOffset means the NITZ offset narrowed the country's zones.
	NetworkCountryAndOffset
	// TestNetworkOffsetOnly means a test network; only the offset was used.
	TestNetworkOffsetOnly
	// EmulatorZoneID means the emulator forced the zone.
	EmulatorZoneID
)

func (m MatchType) String() string {
	switch m {
	case MatchUnknown:
		return "Unknown"
	case NetworkCountryOnly:
		return "NetworkCountryOnly"
	case NetworkCountryAndOffset:
		return "NetworkCountryAndOffset"
	case TestNetworkOffsetOnly:
		return "TestNetworkOffsetOnly"
	case EmulatorZoneID:
		return "EmulatorZoneId"
	default:
		return fmt.Sprintf("MatchType(%d)", int(m))
	}
}

// MarshalText renders the match type by name in JSON payloads.
func (m MatchType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Country is the serving network's country as last reported by the radio.
// The zero value means unknown. An empty ISO code that is known is the
// test network convention: a network not attributable to a real country.
type Country struct {
	iso   string
	known bool
}

var (
	// NoCountry means the country is unknown.
	NoCountry = Country{}
	// TestNetwork is a known network without a real country.
	TestNetwork = Country{known: true}
)

// CountryCode wraps an ISO 3166 code. The empty string is TestNetwork.
func CountryCode(iso string) Country {
	return Country{iso: strings.ToLower(strings.TrimSpace(iso)), known: true}
}

// ISO returns the code and whether the country is known.
func (c Country) ISO() (string, bool) {
	return c.iso, c.known
}

// Known reports whether any country information is available.
func (c Country) Known() bool {
	return c.known
}

// IsTestNetwork reports the test network convention.
func (c Country) IsTestNetwork() bool {
	return c.known && c.iso == ""
}

func (c Country) String() string {
	switch {
	case !c.known:
		return "<unknown>"
	case c.iso == "":
		return "<test network>"
	default:
		return c.iso
	}
}

// TimeZoneSuggestion is the engine's opinion about the device time zone.
// A suggestion without a zone withdraws any previous opinion.
type TimeZoneSuggestion struct {
	ZoneID    string           `json:"zone_id,omitempty"`
	DebugInfo []string         `json:"debug_info,omitempty"`
	SlotIndex int              `json:"slot_index"`
	MatchType MatchType        `json:"match_type"`
	Quality   tzlookup.Quality `json:"quality"`
}

// EmptyTimeZone is the canonical withdrawal for a slot.
func EmptyTimeZone(slot int, debug ...string) TimeZoneSuggestion {
	return TimeZoneSuggestion{SlotIndex: slot, DebugInfo: debug}
}

// IsEmpty reports whether the suggestion carries no zone.
func (s TimeZoneSuggestion) IsEmpty() bool {
	return s.ZoneID == ""
}

// Equal compares everything except the debug trail, so all empty
// suggestions for a slot are equal.
func (s TimeZoneSuggestion) Equal(o TimeZoneSuggestion) bool {
	return s.SlotIndex == o.SlotIndex &&
		s.ZoneID == o.ZoneID &&
		s.MatchType == o.MatchType &&
		s.Quality == o.Quality
}

func (s TimeZoneSuggestion) String() string {
	if s.IsEmpty() {
		return fmt.Sprintf("slot %d: no time zone", s.SlotIndex)
	}
	return fmt.Sprintf("slot %d: %s (%s, %s)", s.SlotIndex, s.ZoneID, s.MatchType, s.Quality)
}

// UTCTime pairs a UTC instant with the elapsed-realtime reading it belongs to.
type UTCTime struct {
	ReferenceMillis int64 `json:"reference_millis"`
	UTCMillis       int64 `json:"utc_millis"`
}

// TimeSuggestion is the engine's opinion about the device time.
// A nil UTCTime withdraws any previous opinion.
type TimeSuggestion struct {
	UTCTime   *UTCTime `json:"utc_time,omitempty"`
	DebugInfo []string `json:"debug_info,omitempty"`
	SlotIndex int      `json:"slot_index"`
}

// IsEmpty reports whether the suggestion carries no time.
func (s TimeSuggestion) IsEmpty() bool {
	return s.UTCTime == nil
}

// Equal compares slot and time, ignoring the debug trail.
func (s TimeSuggestion) Equal(o TimeSuggestion) bool {
	if s.SlotIndex != o.SlotIndex || (s.UTCTime == nil) != (o.UTCTime == nil) {
		return false
	}
	return s.UTCTime == nil || *s.UTCTime == *o.UTCTime
}

func (s TimeSuggestion) String() string {
	if s.IsEmpty() {
		return fmt.Sprintf("slot %d: no time", s.SlotIndex)
	}
	return fmt.Sprintf("slot %d: utc=%d ref=%d", s.SlotIndex, s.UTCTime.UTCMillis, s.UTCTime.ReferenceMillis)
}
