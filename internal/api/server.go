// Package api serves the dashboard feed: intersection snapshots, event log
// replay, alert history and live streams, plus HTTP submission of density
// samples and emergency claims.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/feed"
	"github.com/banshee-data/greenwave/internal/ingest"
	"github.com/banshee-data/greenwave/internal/preempt"
	"github.com/banshee-data/greenwave/internal/signal"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Engine is the coordinator surface the API reads from and submits to.
type Engine interface {
	Snapshots() []signal.Snapshot
	Snapshot(signal.IntersectionID) (signal.Snapshot, error)
	Intersections() []signal.IntersectionID
	Densities(signal.IntersectionID) (map[signal.ApproachID]float64, error)
	GreenDurations(signal.IntersectionID) (map[signal.PhaseID]time.Duration, error)
	Stalled() []signal.IntersectionID

	SubmitDensity(signal.DensitySample) error
	SubmitClaim(signal.EmergencyClaim) (signal.EmergencyClaim, error)
	Claim(id string) (preempt.ClaimInfo, bool)
	Claims() []preempt.ClaimInfo

	Events() eventlog.Log
	SnapshotHub() *feed.Hub[signal.Snapshot]
	AlertHub() *feed.Hub[signal.Alert]
	TransitionHub() *feed.Hub[signal.TransitionEvent]
}

// AlertStore returns persisted alerts, newest first.
type AlertStore interface {
	RecentAlerts(ctx context.Context, limit int) ([]signal.Alert, error)
}

// Options configure a Server. Zero values are usable.
type Options struct {
	// Alerts backs /api/alerts; nil disables alert history.
	Alerts AlertStore
	// Decoder parses submitted messages.
	Decoder ingest.Decoder
	// Now stamps submissions without a timestamp; nil uses the wall clock.
	Now func() time.Time
}

type Server struct {
	engine  Engine
	alerts  AlertStore
	decoder ingest.Decoder
	now     func() time.Time
}

func NewServer(engine Engine, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		engine:  engine,
		alerts:  opts.Alerts,
		decoder: opts.Decoder,
		now:     opts.Now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes. Debug routes are attached separately
// with AttachDebugRoutes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/snapshots", s.listSnapshots)
	mux.HandleFunc("/api/intersections", s.listIntersections)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/claims", s.handleClaims)
	mux.HandleFunc("/api/density", s.submitDensity)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/stream/snapshots", s.streamSnapshots)
	mux.HandleFunc("/api/stream/alerts", s.streamAlerts)
	return mux
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}
