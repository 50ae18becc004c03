// Package tzconvert provides offset conversion utilities.
// ALL instants in the codebase are UTC milliseconds since the epoch.
// Offsets are signed milliseconds east of UTC, matching what NITZ carries.
package tzconvert

import (
	"fmt"
	"time"
)

// QuarterHourMillis is the NITZ offset unit.
const QuarterHourMillis = int32(15 * time.Minute / time.Millisecond)

// HourMillis is the NITZ DST adjustment unit.
const HourMillis = int32(time.Hour / time.Millisecond)

// QuarterHoursToMillis converts a NITZ quarter-hour count to an offset.
// Example: QuarterHoursToMillis(-32) is -8h (PST)
// Example: QuarterHoursToMillis(23) is +5h45m (Nepal)
func QuarterHoursToMillis(quarters int) int32 {
	return int32(quarters) * QuarterHourMillis
}

// MillisToQuarterHours converts an offset to a NITZ quarter-hour count.
// The second result is false when the offset is not a whole number of quarters.
func MillisToQuarterHours(offsetMillis int32) (int, bool) {
	return int(offsetMillis / QuarterHourMillis), offsetMillis%QuarterHourMillis == 0
}

// UTCToLocal converts a UTC instant to local wall-clock milliseconds.
// Example: UTCToLocal(15:30 UTC, -4h) is 11:30 EDT
func UTCToLocal(utcMillis int64, offsetMillis int32) int64 {
	return utcMillis + int64(offsetMillis)
}

// ZoneOffsetAt returns the total UTC offset of loc at the UTC instant, and
// whether daylight saving time is in effect there at that instant.
func ZoneOffsetAt(loc *time.Location, utcMillis int64) (offsetMillis int32, isDST bool) {
	t := time.UnixMilli(utcMillis).In(loc)
	_, seconds := t.Zone()
	return int32(seconds) * 1000, t.IsDST()
}

// FormatOffset renders an offset the way debug output shows it.
// Examples:
//   - 0 returns "UTC+00:00"
//   - -8h returns "UTC-08:00"
//   - +12h45m returns "UTC+12:45"
func FormatOffset(offsetMillis int32) string {
	sign := '+'
	if offsetMillis < 0 {
		sign = '-'
		offsetMillis = -offsetMillis
	}
	minutes := offsetMillis / 60_000
	return fmt.Sprintf("UTC%c%02d:%02d", sign, minutes/60, minutes%60)
}
