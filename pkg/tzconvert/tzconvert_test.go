package tzconvert

import (
	"testing"
	"time"
)

func TestQuarterHoursToMillis(t *testing.T) {
	tests := []struct {
		name     string
		quarters int
		want     int32
	}{
		{"UTC", 0, 0},
		{"PST", -32, -8 * 3_600_000},
		{"IST", 22, 5*3_600_000 + 30*60_000},
		{"Nepal", 23, 5*3_600_000 + 45*60_000},
		{"Chatham daylight", 55, 13*3_600_000 + 45*60_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuarterHoursToMillis(tt.quarters)
			if got != tt.want {
				t.Errorf("QuarterHoursToMillis(%d) = %d, want %d", tt.quarters, got, tt.want)
			}
			back, exact := MillisToQuarterHours(got)
			if !exact || back != tt.quarters {
				t.Errorf("MillisToQuarterHours(%d) = %d, %v; want %d, true", got, back, exact, tt.quarters)
			}
		})
	}
}

func TestMillisToQuarterHoursInexact(t *testing.T) {
	if _, exact := MillisToQuarterHours(10 * 60_000); exact {
		t.Error("10 minutes should not be a whole number of quarter hours")
	}
}

func TestUTCToLocalMatchesWallClock(t *testing.T) {
	// Local milliseconds must read as the wall clock of a fixed zone at that offset
	instants := []int64{0, 1_421_323_200_000, -86_400_000}
	offsets := []int32{-11 * HourMillis, -7 * HourMillis, 0, 22 * QuarterHourMillis, 13 * HourMillis}

	for _, instant := range instants {
		for _, offset := range offsets {
			wall := time.UnixMilli(instant).In(time.FixedZone("", int(offset/1000)))
			want := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(),
				wall.Second(), wall.Nanosecond(), time.UTC).UnixMilli()
			if got := UTCToLocal(instant, offset); got != want {
				t.Errorf("UTCToLocal(%d, %d) = %d, want %d", instant, offset, got, want)
			}
		}
	}
}

func TestZoneOffsetAt(t *testing.T) {
	winter := time.Date(2015, 1, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
	summer := time.Date(2015, 7, 15, 12, 0, 0, 0, time.UTC).UnixMilli()

	tests := []struct {
		zone       string
		at         int64
		wantOffset int32
		wantDST    bool
	}{
		{"America/Los_Angeles", winter, -8 * HourMillis, false},
		{"America/Los_Angeles", summer, -7 * HourMillis, true},
		{"America/Phoenix", summer, -7 * HourMillis, false},
		{"Europe/London", winter, 0, false},
		{"Europe/London", summer, HourMillis, true},
		{"Asia/Kolkata", summer, 22 * QuarterHourMillis, false},
	}

	for _, tt := range tests {
		t.Run(tt.zone, func(t *testing.T) {
			loc, err := time.LoadLocation(tt.zone)
			if err != nil {
				t.Fatalf("LoadLocation(%q): %v", tt.zone, err)
			}
			offset, dst := ZoneOffsetAt(loc, tt.at)
			if offset != tt.wantOffset || dst != tt.wantDST {
				t.Errorf("ZoneOffsetAt(%s) = %d, %v; want %d, %v", tt.zone, offset, dst, tt.wantOffset, tt.wantDST)
			}
		})
	}
}

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		offset int32
		want   string
	}{
		{0, "UTC+00:00"},
		{-8 * HourMillis, "UTC-08:00"},
		{22 * QuarterHourMillis, "UTC+05:30"},
		{51 * QuarterHourMillis, "UTC+12:45"},
		{-14 * QuarterHourMillis, "UTC-03:30"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatOffset(tt.offset); got != tt.want {
				t.Errorf("FormatOffset(%d) = %q, want %q", tt.offset, got, tt.want)
			}
		})
	}
}
