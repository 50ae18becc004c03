package tzlookup

import "fmt"

// Quality classifies how trustworthy a country-only zone guess is.
// The values are distinct classifications, not a scale.
type Quality int

const (
	// QualityUnknown is the zero value and means "no quality".
	QualityUnknown Quality = iota
	// SingleZone means the country has one effective zone.
	SingleZone
	// MultipleZonesSameOffset means several zones that agree on the offset.
	MultipleZonesSameOffset
	// MultipleZonesDifferentOffsets means several zones with different offsets.
	MultipleZonesDifferentOffsets
	// DefaultBoosted means several zones but the default is authoritative.
	DefaultBoosted
)

func (q Quality) String() string {
	switch q {
	case QualityUnknown:
		return "Unknown"
	case SingleZone:
		return "SingleZone"
	case MultipleZonesSameOffset:
		return "MultipleZonesSameOffset"
	case MultipleZonesDifferentOffsets:
		return "MultipleZonesDifferentOffsets"
	case DefaultBoosted:
		return "DefaultBoosted"
	default:
		return fmt.Sprintf("Quality(%d)", int(q))
	}
}

// CountryResult is what a country alone says about the time zone.
type CountryResult struct {
	DefaultZoneID    string   `json:"default_zone_id"`
	EffectiveZoneIDs []string `json:"effective_zone_ids"`
	DebugInfo        []string `json:"debug_info,omitempty"`
	Quality          Quality  `json:"quality"`
}

// OffsetResult is a zone consistent with a NITZ signal.
type OffsetResult struct {
	ZoneID      string `json:"zone_id"`
	IsOnlyMatch bool   `json:"is_only_match"`
}

// MarshalText renders the quality by name in JSON payloads.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}
