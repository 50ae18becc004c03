// Package nitz decodes Network Identity and Time Zone (NITZ) strings sent by
// cellular networks into immutable signals.
package nitz

import (
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzconvert"
)

// Signal is a decoded NITZ payload plus the elapsed-realtime clock reading
// at which the radio received it.
//
// LocalOffsetMillis already includes any DST contribution. The DST
// adjustment is optional: networks may omit it, and unknown is not zero.
// Signals are values; compare them with ==.
type Signal struct {
	EmulatorZone      string // IANA id forced by the emulator; empty when absent
	UTCMillis         int64
	ReceivedAtMillis  int64
	LocalOffsetMillis int32
	dstMillis         int32
	hasDST            bool
}

// NewSignal builds a signal without DST information or emulator zone.
func NewSignal(utcMillis int64, localOffsetMillis int32, receivedAtMillis int64) Signal {
	return Signal{
		UTCMillis:         utcMillis,
		LocalOffsetMillis: localOffsetMillis,
		ReceivedAtMillis:  receivedAtMillis,
	}
}

// WithDST returns a copy of s carrying the given DST adjustment.
func (s Signal) WithDST(dstMillis int32) Signal {
	s.dstMillis = dstMillis
	s.hasDST = true
	return s
}

// WithEmulatorZone returns a copy of s carrying an emulator-forced zone.
func (s Signal) WithEmulatorZone(zoneID string) Signal {
	s.EmulatorZone = zoneID
	return s
}

// WithReceivedAt returns a copy of s received at another elapsed-realtime reading.
func (s Signal) WithReceivedAt(receivedAtMillis int64) Signal {
	s.ReceivedAtMillis = receivedAtMillis
	return s
}

// DSTAdjustment returns the DST adjustment and whether the network sent one.
func (s Signal) DSTAdjustment() (int32, bool) {
	return s.dstMillis, s.hasDST
}

// Time returns the UTC instant carried by the signal.
func (s Signal) Time() time.Time {
	return time.UnixMilli(s.UTCMillis).UTC()
}

// UTCMillisAt projects the signal's UTC time to another elapsed-realtime reading.
func (s Signal) UTCMillisAt(elapsedMillis int64) int64 {
	return s.UTCMillis + (elapsedMillis - s.ReceivedAtMillis)
}

// SameOffsetInfo reports whether both signals carry the same local offset,
// DST adjustment and emulator zone.
func (s Signal) SameOffsetInfo(o Signal) bool {
	return s.LocalOffsetMillis == o.LocalOffsetMillis &&
		s.hasDST == o.hasDST &&
		s.dstMillis == o.dstMillis &&
		s.EmulatorZone == o.EmulatorZone
}

// WireString renders the payload back into the NITZ wire format.
// Sub-second precision is dropped; the wire carries whole seconds.
func (s Signal) WireString() string {
	t := s.Time()
	quarters, _ := tzconvert.MillisToQuarterHours(s.LocalOffsetMillis)
	out := fmt.Sprintf("%02d/%02d/%02d,%02d:%02d:%02d%+d",
		t.Year()-2000, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), quarters)
	switch {
	case s.EmulatorZone != "" && s.hasDST:
		out += fmt.Sprintf(",%d,%s", s.dstMillis/tzconvert.HourMillis, encodeZone(s.EmulatorZone))
	case s.EmulatorZone != "":
		out += ",," + encodeZone(s.EmulatorZone)
	case s.hasDST:
		out += fmt.Sprintf(",%d", s.dstMillis/tzconvert.HourMillis)
	default:
	}
	return out
}

// String is used in logs and debug trails.
func (s Signal) String() string {
	return fmt.Sprintf("%s@%d", s.WireString(), s.ReceivedAtMillis)
}
