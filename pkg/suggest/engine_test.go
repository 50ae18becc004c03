package suggest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

const hour = int32(3_600_000)

var (
	winter2015 = time.Date(2015, 1, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
	winter2016 = time.Date(2016, 1, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
	summer2015 = time.Date(2015, 7, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
)

func newEngine(t testing.TB) *Engine {
	t.Helper()
	l, err := tzlookup.New()
	require.NoError(t, err)
	return NewEngine(l, func() int64 { return winter2015 })
}

func sig(utc int64, offset int32) *nitz.Signal {
	s := nitz.NewSignal(utc, offset, 1000)
	return &s
}

func TestTimeZoneSuggestion(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	emulated := nitz.NewSignal(winter2015, hour, 1000).WithEmulatorZone("Europe/Paris")

	tests := []struct {
		name    string
		country Country
		sig     *nitz.Signal
		want    TimeZoneSuggestion
	}{
		{
			name:    "nothing known",
			country: NoCountry,
			want:    EmptyTimeZone(3),
		},
		{
			name:    "single zone country without NITZ",
			country: CountryCode("gb"),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Europe/London", MatchType: NetworkCountryOnly, Quality: tzlookup.SingleZone},
		},
		{
			name:    "multi zone country without NITZ",
			country: CountryCode("US"),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "America/New_York", MatchType: NetworkCountryOnly, Quality: tzlookup.MultipleZonesDifferentOffsets},
		},
		{
			name:    "unique offset within country",
			country: CountryCode("us"),
			sig:     sig(winter2016, -8*hour),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "America/Los_Angeles", MatchType: NetworkCountryAndOffset, Quality: tzlookup.SingleZone},
		},
		{
			name:    "pacific offset shared with Metlakatla",
			country: CountryCode("us"),
			sig:     sig(winter2015, -8*hour),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "America/Los_Angeles", MatchType: NetworkCountryAndOffset, Quality: tzlookup.MultipleZonesSameOffset},
		},
		{
			name:    "shared offset within country",
			country: CountryCode("us"),
			sig:     sig(summer2015, -7*hour),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "America/Phoenix", MatchType: NetworkCountryAndOffset, Quality: tzlookup.MultipleZonesSameOffset},
		},
		{
			name:    "bogus offset in ambiguous country",
			country: CountryCode("us"),
			sig:     sig(winter2015, hour),
			want:    EmptyTimeZone(3),
		},
		{
			name:    "bogus offset in boosted country",
			country: CountryCode("nz"),
			sig:     sig(winter2015, 5*hour),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Pacific/Auckland", MatchType: NetworkCountryOnly, Quality: tzlookup.DefaultBoosted},
		},
		{
			name:    "bogus offset in single zone country",
			country: CountryCode("jp"),
			sig:     sig(winter2015, -3*hour),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Asia/Tokyo", MatchType: NetworkCountryOnly, Quality: tzlookup.SingleZone},
		},
		{
			name:    "country only in Italy",
			country: CountryCode("it"),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Europe/Rome", MatchType: NetworkCountryOnly, Quality: tzlookup.SingleZone},
		},
		{
			name:    "country only in Iran",
			country: CountryCode("ir"),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Asia/Tehran", MatchType: NetworkCountryOnly, Quality: tzlookup.SingleZone},
		},
		{
			name:    "country and offset in South Africa",
			country: CountryCode("za"),
			sig:     sig(winter2015, 2*hour),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Africa/Johannesburg", MatchType: NetworkCountryAndOffset, Quality: tzlookup.SingleZone},
		},
		{
			name:    "country missing from table",
			country: CountryCode("zz"),
			want:    EmptyTimeZone(3),
		},
		{
			name:    "country missing from table with NITZ",
			country: CountryCode("zz"),
			sig:     sig(winter2015, 0),
			want:    EmptyTimeZone(3),
		},
		{
			name:    "test network shared offset",
			country: TestNetwork,
			sig:     sig(winter2015, -8*hour),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "America/Dawson", MatchType: TestNetworkOffsetOnly, Quality: tzlookup.MultipleZonesSameOffset},
		},
		{
			name:    "test network half hour offset",
			country: TestNetwork,
			sig:     sig(winter2015, 3*hour+30*60_000),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Asia/Tehran", MatchType: TestNetworkOffsetOnly, Quality: tzlookup.SingleZone},
		},
		{
			name:    "test network unique offset",
			country: CountryCode(""),
			sig:     sig(winter2015, 5*hour+45*60_000),
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Asia/Kathmandu", MatchType: TestNetworkOffsetOnly, Quality: tzlookup.SingleZone},
		},
		{
			name:    "test network unknown offset",
			country: TestNetwork,
			sig:     sig(winter2015, 3*hour+15*60_000),
			want:    EmptyTimeZone(3),
		},
		{
			name:    "test network without NITZ",
			country: TestNetwork,
			want:    EmptyTimeZone(3),
		},
		{
			name:    "NITZ without country",
			country: NoCountry,
			sig:     sig(winter2015, -8*hour),
			want:    EmptyTimeZone(3),
		},
		{
			name:    "emulator zone beats country",
			country: CountryCode("us"),
			sig:     &emulated,
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Europe/Paris", MatchType: EmulatorZoneID, Quality: tzlookup.SingleZone},
		},
		{
			name:    "emulator zone without country",
			country: NoCountry,
			sig:     &emulated,
			want:    TimeZoneSuggestion{SlotIndex: 3, ZoneID: "Europe/Paris", MatchType: EmulatorZoneID, Quality: tzlookup.SingleZone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := e.TimeZoneSuggestion(3, tt.country, tt.sig)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			assert.NotEmpty(t, got.DebugInfo, "every suggestion explains itself")
		})
	}
}

func TestTimeZoneSuggestionZeroOffsetBogusNoted(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	got := e.TimeZoneSuggestion(0, CountryCode("gb"), sig(summer2015, 0))
	assert.Equal(t, "Europe/London", got.ZoneID)
	assert.Equal(t, NetworkCountryOnly, got.MatchType)
	assert.True(t, strings.Contains(strings.Join(got.DebugInfo, "\n"), "zero offset"), got.DebugInfo)

	got = e.TimeZoneSuggestion(0, CountryCode("gb"), sig(winter2015, 0))
	assert.Equal(t, NetworkCountryAndOffset, got.MatchType, "zero offset is genuine in a UK winter")
}

func TestEmptySuggestionsAreEqual(t *testing.T) {
	t.Parallel()
	a := EmptyTimeZone(1, "one reason")
	b := EmptyTimeZone(1, "another", "reason")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(EmptyTimeZone(2)))
	assert.True(t, a.IsEmpty())
}

func TestTimeSuggestion(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	got := e.TimeSuggestion(2, nil)
	assert.True(t, got.IsEmpty())
	assert.Equal(t, 2, got.SlotIndex)

	s := nitz.NewSignal(winter2015, hour, 4242)
	got = e.TimeSuggestion(2, &s)
	require.False(t, got.IsEmpty())
	assert.Equal(t, UTCTime{ReferenceMillis: 4242, UTCMillis: winter2015}, *got.UTCTime)
	assert.True(t, got.Equal(TimeSuggestion{SlotIndex: 2, UTCTime: &UTCTime{ReferenceMillis: 4242, UTCMillis: winter2015}}))
	assert.False(t, got.Equal(TimeSuggestion{SlotIndex: 2}))
}

func TestCountry(t *testing.T) {
	t.Parallel()
	iso, known := CountryCode(" GB ").ISO()
	assert.Equal(t, "gb", iso)
	assert.True(t, known)
	assert.True(t, CountryCode("").IsTestNetwork())
	assert.Equal(t, TestNetwork, CountryCode(""))
	assert.False(t, NoCountry.Known())
	assert.False(t, NoCountry.IsTestNetwork())
}

func drawSignal(t *rapid.T) nitz.Signal {
	at := rapid.Int64Range(
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
	).Draw(t, "utc")
	quarters := rapid.IntRange(-48, 56).Draw(t, "quarters")
	s := nitz.NewSignal(at, int32(quarters)*15*60_000, 0)
	if rapid.Bool().Draw(t, "dstKnown") {
		s = s.WithDST(int32(rapid.IntRange(0, 1).Draw(t, "dst")) * hour)
	}
	return s
}

// TestPropertyTestNetworkIgnoresCountryTables checks that a test network
// suggestion is always offset-only or empty.
func TestPropertyTestNetworkIgnoresCountryTables(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	rapid.Check(t, func(t *rapid.T) {
		s := drawSignal(t)
		got := e.TimeZoneSuggestion(0, TestNetwork, &s)
		if !got.IsEmpty() && got.MatchType != TestNetworkOffsetOnly {
			t.Fatalf("test network produced %v", got)
		}
		if got.IsEmpty() && got.MatchType != MatchUnknown {
			t.Fatalf("empty suggestion with match type %v", got.MatchType)
		}
	})
}

// TestPropertyCountryNeverGuessesAcrossOffsets checks that a suggestion
// built from country and offset always agrees with the offset, and that a
// fallback only happens for countries with a trustworthy default.
func TestPropertyCountryNeverGuessesAcrossOffsets(t *testing.T) {
	t.Parallel()
	l, err := tzlookup.New()
	require.NoError(t, err)
	e := NewEngine(l, nil)

	rapid.Check(t, func(t *rapid.T) {
		s := drawSignal(t)
		iso := rapid.SampledFrom(l.Countries()).Draw(t, "iso")
		got := e.TimeZoneSuggestion(0, CountryCode(iso), &s)

		switch got.MatchType {
		case NetworkCountryAndOffset:
			res, ok := l.ByNITZAndCountry(s, iso)
			if !ok || res.ZoneID != got.ZoneID {
				t.Fatalf("%v disagrees with lookup %v", got, res)
			}
		case NetworkCountryOnly:
			if got.Quality != tzlookup.SingleZone && got.Quality != tzlookup.DefaultBoosted {
				t.Fatalf("fallback with untrustworthy quality: %v", got)
			}
		case MatchUnknown:
			if !got.IsEmpty() {
				t.Fatalf("zone without match type: %v", got)
			}
		default:
			t.Fatalf("unexpected match type for country %s: %v", iso, got)
		}
	})
}
