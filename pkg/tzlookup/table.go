package tzlookup

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed countryzones.yaml
var defaultTable []byte

// ErrInvalidTable is wrapped by every table loading failure.
var ErrInvalidTable = errors.New("invalid country zone table")

type tableFile struct {
	Countries []tableCountry `yaml:"countries"`
}

type tableCountry struct {
	ISO          string      `yaml:"iso"`
	Default      string      `yaml:"default"`
	Zones        []tableZone `yaml:"zones"`
	DefaultBoost bool        `yaml:"default_boost"`
}

type tableZone struct {
	NotAfter *time.Time `yaml:"not_after"`
	ID       string     `yaml:"id"`
}

// country is a validated table entry.
type country struct {
	iso         string
	defaultZone string
	zones       []zoneEntry
	boost       bool
}

type zoneEntry struct {
	id          string
	notAfter    int64
	hasNotAfter bool
}

// effectiveAt reports whether the zone is still a distinct candidate.
func (z zoneEntry) effectiveAt(atMillis int64) bool {
	return !z.hasNotAfter || atMillis < z.notAfter
}

func normalizeISO(iso string) string {
	return strings.ToLower(strings.TrimSpace(iso))
}

func parseTable(r io.Reader) (map[string]country, error) {
	var tf tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", ErrInvalidTable, err)
	}

	countries := make(map[string]country, len(tf.Countries))
	for i, tc := range tf.Countries {
		iso := normalizeISO(tc.ISO)
		if iso == "" {
			return nil, fmt.Errorf("%w: entry %d has no iso code", ErrInvalidTable, i)
		}
		if _, dup := countries[iso]; dup {
			return nil, fmt.Errorf("%w: country %q listed twice", ErrInvalidTable, iso)
		}
		if len(tc.Zones) == 0 {
			return nil, fmt.Errorf("%w: country %q has no zones", ErrInvalidTable, iso)
		}

		c := country{iso: iso, defaultZone: tc.Default, boost: tc.DefaultBoost}
		seen := make(map[string]bool, len(tc.Zones))
		defaultListed := false
		for _, tz := range tc.Zones {
			if tz.ID == "" {
				return nil, fmt.Errorf("%w: country %q has a zone without id", ErrInvalidTable, iso)
			}
			if seen[tz.ID] {
				return nil, fmt.Errorf("%w: country %q lists %s twice", ErrInvalidTable, iso, tz.ID)
			}
			seen[tz.ID] = true
			z := zoneEntry{id: tz.ID}
			if tz.NotAfter != nil {
				z.notAfter = tz.NotAfter.UnixMilli()
				z.hasNotAfter = true
			}
			if tz.ID == tc.Default {
				defaultListed = true
				if z.hasNotAfter {
					return nil, fmt.Errorf("%w: default zone %s of %q must not expire", ErrInvalidTable, tz.ID, iso)
				}
			}
			c.zones = append(c.zones, z)
		}
		if !defaultListed {
			return nil, fmt.Errorf("%w: default zone %q of %q is not in its zone list", ErrInvalidTable, tc.Default, iso)
		}
		countries[iso] = c
	}
	return countries, nil
}

func embeddedTable() io.Reader {
	return bytes.NewReader(defaultTable)
}
