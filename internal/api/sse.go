package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/greenwave/internal/feed"
	"github.com/banshee-data/greenwave/internal/signal"
)

// serveSSE streams hub values as Server-Sent Events until the client goes
// away or the hub is closed. Each event is one JSON document.
func serveSSE[T any](w http.ResponseWriter, r *http.Request, hub *feed.Hub[T], keep func(T) bool, initial ...T) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := hub.Subscribe()
	defer hub.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	send := func(v T) bool {
		if keep != nil && !keep(v) {
			return true
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	for _, v := range initial {
		if !send(v) {
			return
		}
	}

	for {
		select {
		case v, ok := <-c:
			if !ok {
				return
			}
			if !send(v) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) streamSnapshots(w http.ResponseWriter, r *http.Request) {
	id := signal.IntersectionID(r.URL.Query().Get("intersection"))
	keep := func(snap signal.Snapshot) bool { return id == "" || snap.Intersection == id }
	var initial []signal.Snapshot
	for _, snap := range s.engine.Snapshots() {
		if keep(snap) {
			initial = append(initial, snap)
		}
	}
	serveSSE(w, r, s.engine.SnapshotHub(), keep, initial...)
}

func (s *Server) streamAlerts(w http.ResponseWriter, r *http.Request) {
	kind := signal.AlertKind(r.URL.Query().Get("kind"))
	serveSSE(w, r, s.engine.AlertHub(), func(a signal.Alert) bool {
		return kind == "" || a.Kind == kind
	})
}
