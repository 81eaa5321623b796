// Package server exposes the read-only HTTP surface of the daemon:
// health, Prometheus metrics, JSON snapshots of journeys/participants/
// positions, and a server-sent-events stream of journey snapshots.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liapostsk/aeghis-sync/internal/service"
)

// Server bundles the core services behind HTTP handlers.
type Server struct {
	journeys       *service.JourneySync
	participations *service.ParticipationSync
	positions      *service.PositionStream
}

// New creates a Server over the core services.
func New(journeys *service.JourneySync, participations *service.ParticipationSync, positions *service.PositionStream) *Server {
	return &Server{
		journeys:       journeys,
		participations: participations,
		positions:      positions,
	}
}

// Handler returns the full HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/groups/{groupID}/journeys", s.handleListJourneys)
	mux.HandleFunc("GET /v1/groups/{groupID}/journeys/stream", s.handleStreamJourneys)
	mux.HandleFunc("GET /v1/journeys/{journeyID}/participants", s.handleListParticipants)
	mux.HandleFunc("GET /v1/journeys/{journeyID}/participants/counts", s.handleCountParticipants)
	mux.HandleFunc("GET /v1/journeys/{journeyID}/participants/{userID}/positions", s.handleListPositions)

	return loggingMiddleware(mux)
}

func (s *Server) handleListJourneys(w http.ResponseWriter, r *http.Request) {
	journeys, err := s.journeys.ListChildJourneys(r.Context(), r.PathValue("groupID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, journeys)
}

// handleStreamJourneys pushes the group's journey list as SSE events,
// one full snapshot per change, until the client disconnects.
func (s *Server) handleStreamJourneys(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := s.journeys.Subscribe(r.Context(), r.PathValue("groupID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case err, ok := <-sub.Errs():
			if !ok {
				return
			}
			// Watch errors are informational; tell the client and keep
			// the stream open.
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
			flusher.Flush()
		case journeys, ok := <-sub.Updates():
			if !ok {
				return
			}
			payload, err := json.Marshal(journeys)
			if err != nil {
				slog.Error("Failed to encode journey snapshot", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.participations.List(r.Context(), r.PathValue("journeyID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, participants)
}

func (s *Server) handleCountParticipants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.participations.CountByState(r.Context(), r.PathValue("journeyID")))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	positions, err := s.positions.History(r.Context(), r.PathValue("journeyID"), r.PathValue("userID"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, positions)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
