package nitz

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // emulator zones are validated against the embedded database

	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzconvert"
)

// ErrInvalid is wrapped by every Parse failure.
var ErrInvalid = errors.New("invalid NITZ string")

// Wire format: YY/MM/DD,HH:MM:SS±OZ[,DST[,ZONE]].
// The emulator writes ZONE with '!' in place of '/'.
var wireRegex = regexp.MustCompile(
	`^(\d+)/(\d+)/(\d+),(\d+):(\d+):(\d+)([+-]\d+)(?:,(\d*)(?:,([A-Za-z0-9_+!-]+))?)?$`)

const (
	// maxOffsetQuarters bounds the offset to ±14h, the widest real zone.
	maxOffsetQuarters = 56
	// maxDSTHours bounds the DST field; real networks send 0, 1 or 2.
	maxDSTHours = 24
)

// Parse decodes a NITZ wire string received at the given elapsed-realtime reading.
func Parse(s string, receivedAtMillis int64) (Signal, error) {
	m := wireRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Signal{}, fmt.Errorf("%w: %q does not match YY/MM/DD,HH:MM:SS±OZ[,DST]", ErrInvalid, s)
	}

	fields := make([]int, 6)
	for i := range fields {
		v, err := strconv.ParseInt(m[i+1], 10, 16)
		if err != nil {
			return Signal{}, fmt.Errorf("%w: field %d of %q: %w", ErrInvalid, i+1, s, err)
		}
		fields[i] = int(v)
	}
	yy, month, day, hour, minute, second := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]
	if yy > 99 {
		return Signal{}, fmt.Errorf("%w: two-digit year expected, got %d", ErrInvalid, yy)
	}

	t := time.Date(2000+yy, time.Month(month), day, hour, minute, second, 0, time.UTC)
	// time.Date normalizes out-of-range fields; a real instant survives unchanged.
	if t.Year() != 2000+yy || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return Signal{}, fmt.Errorf("%w: %q is not a calendar instant", ErrInvalid, s)
	}

	quarters, err := strconv.ParseInt(m[7], 10, 16)
	if err != nil {
		return Signal{}, fmt.Errorf("%w: offset of %q: %w", ErrInvalid, s, err)
	}
	if quarters > maxOffsetQuarters || quarters < -maxOffsetQuarters {
		return Signal{}, fmt.Errorf("%w: offset %d quarter hours out of range", ErrInvalid, quarters)
	}

	sig := NewSignal(t.UnixMilli(), tzconvert.QuarterHoursToMillis(int(quarters)), receivedAtMillis)

	if m[8] != "" {
		dst, err := strconv.ParseInt(m[8], 10, 16)
		if err != nil {
			return Signal{}, fmt.Errorf("%w: DST of %q: %w", ErrInvalid, s, err)
		}
		if dst > maxDSTHours {
			return Signal{}, fmt.Errorf("%w: DST adjustment %dh out of range", ErrInvalid, dst)
		}
		sig = sig.WithDST(int32(dst) * tzconvert.HourMillis)
	}

	if m[9] != "" {
		zoneID := decodeZone(m[9])
		if zoneID == "Local" {
			return Signal{}, fmt.Errorf("%w: emulator zone %q", ErrInvalid, zoneID)
		}
		if _, err := time.LoadLocation(zoneID); err != nil {
			return Signal{}, fmt.Errorf("%w: emulator zone %q: %w", ErrInvalid, zoneID, err)
		}
		sig = sig.WithEmulatorZone(zoneID)
	}

	return sig, nil
}

func decodeZone(wire string) string {
	return strings.ReplaceAll(wire, "!", "/")
}

func encodeZone(zoneID string) string {
	return strings.ReplaceAll(zoneID, "/", "!")
}
