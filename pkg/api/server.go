// Package api is the HTTP surface of the meter reader.
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/meter"
)

// Reading is the JSON form of a cached value.
type Reading struct {
	Obis      string `json:"obis"`
	Value     string `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Text      bool   `json:"text,omitempty"`
	Direction string `json:"direction"`
	Status    string `json:"status,omitempty"`
}

type Server struct {
	manager *meter.Manager
	feed    http.Handler
	metrics http.Handler
	log     zerolog.Logger
}

// NewServer wires the handlers. feed and metrics may be nil, the routes are
// then not registered.
func NewServer(manager *meter.Manager, feed, metrics http.Handler, log zerolog.Logger) *Server {
	return &Server{manager: manager, feed: feed, metrics: metrics, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/devices", s.handleDevices)
	if s.feed != nil {
		mux.Handle("/ws", s.feed)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "OBIS Meter Reader API",
		"status":  "running",
		"devices": len(s.manager.Devices()),
	})
}

// handleLatest returns the cached readings per device, or of one device with
// ?device=<id>.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	devices := s.manager.Devices()
	if id := r.URL.Query().Get("device"); id != "" {
		d, ok := s.manager.Device(id)
		if !ok {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown device " + id})
			return
		}
		devices = []*meter.Device{d}
	}

	out := make(map[string][]Reading, len(devices))
	total := 0
	for _, d := range devices {
		values := d.Values()
		readings := make([]Reading, 0, len(values))
		for _, v := range values {
			readings = append(readings, Reading{
				Obis:      v.Obis.String(),
				Value:     v.Value(),
				Unit:      v.Unit,
				Text:      v.IsText,
				Direction: v.Direction.String(),
				Status:    hex.EncodeToString(v.Status),
			})
		}
		out[d.ID()] = readings
		total += len(readings)
	}

	if total == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "No readings available yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.manager.Devices()
	out := make([]meter.Info, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Info())
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("writing response failed")
	}
}
