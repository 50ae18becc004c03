// Package server exposes the per-slot state machines over HTTP so a radio
// layer can feed events from another process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/device"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/metrics"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitztz"
)

// ErrUnknownSlot is returned for slot indexes the server does not manage.
var ErrUnknownSlot = errors.New("unknown slot")

const maxBodyBytes = 4 << 10

// Slot is one radio: its actor and the device clocks it runs on.
type Slot struct {
	Actor  *nitztz.Actor
	Device device.State
}

// Server routes API requests to slot actors.
type Server struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	limiter  *clientLimiter
	slots    map[int]Slot
	validate *validator.Validate
	router   *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimit limits requests per client address.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = newClientLimiter(perSecond, burst)
	}
}

// New creates a server for the given slots.
func New(slots []Slot, opts ...Option) *Server {
	s := &Server{
		logger:   slog.Default(),
		limiter:  newClientLimiter(10, 20),
		slots:    make(map[int]Slot, len(slots)),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, sl := range slots {
		s.slots[sl.Actor.Slot()] = sl
	}

	r := mux.NewRouter()
	r.Use(s.rateLimit)
	s.handle(r, "/healthz", s.handleHealth, http.MethodGet)
	s.handle(r, "/v1/slots/{slot:[0-9]+}/nitz", s.handlePostNITZ, http.MethodPost)
	s.handle(r, "/v1/slots/{slot:[0-9]+}/nitz", s.handleGetNITZ, http.MethodGet)
	s.handle(r, "/v1/slots/{slot:[0-9]+}/country", s.handlePutCountry, http.MethodPut)
	s.handle(r, "/v1/slots/{slot:[0-9]+}/country", s.handleDeleteCountry, http.MethodDelete)
	s.handle(r, "/v1/slots/{slot:[0-9]+}/network", s.handlePutNetwork, http.MethodPut)
	s.handle(r, "/v1/slots/{slot:[0-9]+}/airplane", s.handlePutAirplane, http.MethodPut)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

func (s *Server) handle(r *mux.Router, path string, h http.HandlerFunc, method string) {
	r.Handle(path, s.metrics.WrapHandler(method+" "+path, h)).Methods(method)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Maintain prunes idle rate limiter entries until ctx ends.
func (s *Server) Maintain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.limiter.prune(10 * time.Minute); n > 0 {
				s.logger.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !s.limiter.allow(client) {
			s.logger.Warn("rate limit exceeded", "client", client, "path", r.URL.Path, "method", r.Method)
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) slot(r *http.Request) (Slot, error) {
	raw := mux.Vars(r)["slot"]
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %s", ErrUnknownSlot, raw)
	}
	sl, ok := s.slots[idx]
	if !ok {
		return Slot{}, fmt.Errorf("%w: %d", ErrUnknownSlot, idx)
	}
	return sl, nil
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validating body: %w", err)
	}
	return nil
}

// dispatch resolves the slot, decodes the body and hands the event to the
// slot's actor.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, body any, event func(Slot) error) {
	sl, err := s.slot(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if body != nil {
		if err := s.decode(w, r, body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := event(sl); err != nil {
		if errors.Is(err, nitz.ErrInvalid) {
			s.logger.Debug("discarding malformed NITZ", "slot", sl.Actor.Slot(), "error", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("slot event failed", "slot", sl.Actor.Slot(), "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type nitzRequest struct {
	ReceivedAtMillis *int64 `json:"received_at_millis" validate:"omitempty,gte=0"`
	NITZ             string `json:"nitz" validate:"required"`
}

func (s *Server) handlePostNITZ(w http.ResponseWriter, r *http.Request) {
	var req nitzRequest
	s.dispatch(w, r, &req, func(sl Slot) error {
		received := sl.Device.ElapsedRealtimeMillis()
		if req.ReceivedAtMillis != nil {
			received = *req.ReceivedAtMillis
		}
		sig, err := nitz.Parse(req.NITZ, received)
		if err != nil {
			return err
		}
		return sl.Actor.NITZReceived(sig)
	})
}

type countryRequest struct {
	ISO *string `json:"iso" validate:"required"`
}

func (s *Server) handlePutCountry(w http.ResponseWriter, r *http.Request) {
	var req countryRequest
	s.dispatch(w, r, &req, func(sl Slot) error {
		return sl.Actor.CountryDetected(*req.ISO)
	})
}

func (s *Server) handleDeleteCountry(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, nil, func(sl Slot) error {
		return sl.Actor.CountryUnavailable()
	})
}

type networkRequest struct {
	Available *bool `json:"available" validate:"required"`
}

func (s *Server) handlePutNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	s.dispatch(w, r, &req, func(sl Slot) error {
		if *req.Available {
			return sl.Actor.NetworkAvailable()
		}
		return sl.Actor.NetworkUnavailable()
	})
}

type airplaneRequest struct {
	On *bool `json:"on" validate:"required"`
}

func (s *Server) handlePutAirplane(w http.ResponseWriter, r *http.Request) {
	var req airplaneRequest
	s.dispatch(w, r, &req, func(sl Slot) error {
		return sl.Actor.AirplaneModeChanged(*req.On)
	})
}

type nitzResponse struct {
	Country          *string `json:"country,omitempty"`
	NITZ             string  `json:"nitz,omitempty"`
	UTCMillis        int64   `json:"utc_millis,omitempty"`
	ReceivedAtMillis int64   `json:"received_at_millis,omitempty"`
	Slot             int     `json:"slot"`
	NetworkAvailable bool    `json:"network_available"`
}

func (s *Server) handleGetNITZ(w http.ResponseWriter, r *http.Request) {
	sl, err := s.slot(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	snap, err := sl.Actor.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	resp := nitzResponse{Slot: snap.Slot, NetworkAvailable: snap.NetworkAvailable}
	if iso, known := snap.Country.ISO(); known {
		resp.Country = &iso
	}
	if snap.NITZ != nil {
		resp.NITZ = snap.NITZ.WireString()
		resp.UTCMillis = snap.NITZ.UTCMillis
		resp.ReceivedAtMillis = snap.NITZ.ReceivedAtMillis
	}
	writeJSON(w, http.StatusOK, resp)
}
