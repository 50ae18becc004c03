package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitztz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/suggest"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

type recorder struct {
	mu        sync.Mutex
	times     []suggest.TimeSuggestion
	timeZones []suggest.TimeZoneSuggestion
}

func (r *recorder) SuggestDeviceTime(s suggest.TimeSuggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, s)
}

func (r *recorder) SuggestDeviceTimeZone(s suggest.TimeZoneSuggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeZones = append(r.timeZones, s)
}

func london(slot int, debug ...string) suggest.TimeZoneSuggestion {
	return suggest.TimeZoneSuggestion{
		SlotIndex: slot,
		ZoneID:    "Europe/London",
		MatchType: suggest.NetworkCountryOnly,
		Quality:   tzlookup.SingleZone,
		DebugInfo: debug,
	}
}

func TestDedup(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := NewDedup(rec)

	d.SuggestDeviceTimeZone(london(0, "first"))
	d.SuggestDeviceTimeZone(london(0, "same zone, other trail"))
	d.SuggestDeviceTimeZone(london(1))
	d.SuggestDeviceTimeZone(suggest.EmptyTimeZone(0))
	d.SuggestDeviceTimeZone(suggest.EmptyTimeZone(0, "again"))
	d.SuggestDeviceTimeZone(london(0))

	require.Len(t, rec.timeZones, 4)
	assert.Equal(t, []string{"first"}, rec.timeZones[0].DebugInfo)
	assert.Equal(t, 1, rec.timeZones[1].SlotIndex)
	assert.True(t, rec.timeZones[2].IsEmpty())
	assert.False(t, rec.timeZones[3].IsEmpty())

	ts := suggest.TimeSuggestion{SlotIndex: 0, UTCTime: &suggest.UTCTime{ReferenceMillis: 1, UTCMillis: 2}}
	d.SuggestDeviceTime(ts)
	d.SuggestDeviceTime(suggest.TimeSuggestion{SlotIndex: 0, UTCTime: &suggest.UTCTime{ReferenceMillis: 1, UTCMillis: 2}})
	d.SuggestDeviceTime(suggest.TimeSuggestion{SlotIndex: 0})
	assert.Len(t, rec.times, 2)
}

func TestMulti(t *testing.T) {
	t.Parallel()
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b}
	m.SuggestDeviceTimeZone(london(0))
	m.SuggestDeviceTime(suggest.TimeSuggestion{})
	assert.Len(t, a.timeZones, 1)
	assert.Len(t, b.timeZones, 1)
	assert.Len(t, a.times, 1)
	assert.Len(t, b.times, 1)
}

func TestLog(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	l.SuggestDeviceTimeZone(london(2))
	l.SuggestDeviceTimeZone(suggest.EmptyTimeZone(2, "no country and no NITZ"))
	l.SuggestDeviceTime(suggest.TimeSuggestion{SlotIndex: 2, UTCTime: &suggest.UTCTime{UTCMillis: 42}})

	out := buf.String()
	assert.Contains(t, out, "zone_id=Europe/London")
	assert.Contains(t, out, "quality=SingleZone")
	assert.Contains(t, out, "time zone suggestion withdrawn")
	assert.Contains(t, out, "utc_millis=42")
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	t.Parallel()
	for _, u := range []string{"", "localhost:8080", "ftp://example.com", "http://"} {
		_, err := NewHTTP(u, nil)
		assert.Error(t, err, u)
	}
}

func TestHTTPPostsSuggestions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	got := map[string][]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got[r.URL.Path] = append(got[r.URL.Path], body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL+"/", nil)
	require.NoError(t, err)
	stop := startHTTP(t, h)

	h.SuggestDeviceTimeZone(london(1))
	h.SuggestDeviceTime(suggest.TimeSuggestion{SlotIndex: 1, UTCTime: &suggest.UTCTime{ReferenceMillis: 7, UTCMillis: 9}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got[TimeZonePath]) == 1 && len(got[TimePath]) == 1
	}, 5*time.Second, 5*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got[TimeZonePath], 1)
	assert.Equal(t, "Europe/London", got[TimeZonePath][0]["zone_id"])
	assert.Equal(t, "NetworkCountryOnly", got[TimeZonePath][0]["match_type"])
	assert.Equal(t, "SingleZone", got[TimeZonePath][0]["quality"])
	require.Len(t, got[TimePath], 1)
	utc, ok := got[TimePath][0]["utc_time"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 9, utc["utc_millis"], 0)
}

func TestHTTPRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   bool
	}{
		{"server error then success", []int{500, 503, 200}, 3, false},
		{"rate limited then success", []int{429, 200}, 2, false},
		{"client error is final", []int{400, 200}, 1, true},
		{"budget exhausted", []int{500, 500, 500, 500}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tt.statuses[n-1])
			}))
			defer srv.Close()

			h, err := NewHTTP(srv.URL, nil, WithRetry(3, time.Millisecond))
			require.NoError(t, err)

			err = h.Deliver(context.Background(), TimeZonePath, london(0))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

// startHTTP runs the sink's delivery loop until the returned stop is called.
func startHTTP(t *testing.T, h *HTTP) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

type delivery struct {
	path   string
	zoneID string
	slot   float64
}

func TestHTTPDeliversInOrderAndReplacesQueued(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []delivery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		zoneID, _ := body["zone_id"].(string) // absent for time suggestions
		slot, _ := body["slot_index"].(float64)
		mu.Lock()
		got = append(got, delivery{path: r.URL.Path, zoneID: zoneID, slot: slot})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL, nil)
	require.NoError(t, err)

	h.SuggestDeviceTimeZone(london(0))
	h.SuggestDeviceTime(suggest.TimeSuggestion{SlotIndex: 0})
	h.SuggestDeviceTimeZone(london(1))
	dublin := london(0)
	dublin.ZoneID = "Europe/Dublin"
	h.SuggestDeviceTimeZone(dublin)
	assert.Equal(t, 3, h.Queued(), "newer slot 0 zone replaces the queued one")

	stop := startHTTP(t, h)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 5*time.Second, 5*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []delivery{
		{path: TimeZonePath, zoneID: "Europe/Dublin", slot: 0},
		{path: TimePath, slot: 0},
		{path: TimeZonePath, zoneID: "Europe/London", slot: 1},
	}, got)
	assert.Zero(t, h.Queued())
}

func TestHTTPDropsWhenQueueIsFull(t *testing.T) {
	t.Parallel()
	h, err := NewHTTP("http://127.0.0.1:1", nil, WithQueue(2))
	require.NoError(t, err)

	h.SuggestDeviceTimeZone(london(0))
	h.SuggestDeviceTimeZone(london(1))
	h.SuggestDeviceTimeZone(london(2))
	h.SuggestDeviceTimeZone(london(0))

	assert.Equal(t, 2, h.Queued())
	assert.Equal(t, 1, h.Dropped())
}

// TestHTTPDoesNotStallTheMachine feeds a state machine whose sink posts to
// an authority that never answers.
func TestHTTPDoesNotStallTheMachine(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	defer close(release)

	h, err := NewHTTP(srv.URL, nil, WithTimeout(time.Minute), WithRetry(5, time.Second))
	require.NoError(t, err)
	stop := startHTTP(t, h)
	defer stop()

	dev := device.NewClocked(clockwork.NewFakeClockAt(time.Date(2015, 1, 15, 12, 0, 0, 0, time.UTC)))
	m := nitztz.New(0, dev, h, nitztz.WithLookup(tzlookup.MustNew()))

	start := time.Now()
	for range 5 {
		m.HandleCountryDetected("gb")
		m.HandleCountryUnavailable()
	}
	assert.Less(t, time.Since(start), time.Second, "events must not wait for delivery")

	require.Eventually(t, func() bool { return requests.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, h.Queued(), 1, "queued time zone suggestions for the slot collapse into one")
}
