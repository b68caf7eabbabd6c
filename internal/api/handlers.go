package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/greenwave/internal/ingest"
	"github.com/banshee-data/greenwave/internal/preempt"
	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/version"
)

// maxBody bounds submitted messages.
const maxBody = 64 << 10

// writeEngineError maps the error taxonomy onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, signal.ErrDataQuality):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, signal.ErrUnknownReference):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, signal.ErrClaimExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, preempt.ErrCoolingDown):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type healthResponse struct {
	Status        signal.Status           `json:"status"`
	Stalled       []signal.IntersectionID `json:"stalled"`
	Intersections int                     `json:"intersections"`
	Version       string                  `json:"version"`
	GitSHA        string                  `json:"git_sha"`
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	resp := healthResponse{
		Status:        signal.StatusNormal,
		Stalled:       s.engine.Stalled(),
		Intersections: len(s.engine.Intersections()),
		Version:       version.Version,
		GitSHA:        version.GitSHA,
	}
	if resp.Stalled == nil {
		resp.Stalled = []signal.IntersectionID{}
	}
	if len(resp.Stalled) > 0 {
		resp.Status = signal.StatusDegraded
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if id := r.URL.Query().Get("intersection"); id != "" {
		snap, err := s.engine.Snapshot(signal.IntersectionID(id))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshots())
}

// intersectionView is the dashboard detail of one intersection.
type intersectionView struct {
	Snapshot  signal.Snapshot               `json:"snapshot"`
	Densities map[signal.ApproachID]float64 `json:"densities"`
	Green     map[signal.PhaseID]float64    `json:"green_seconds"`
}

func (s *Server) listIntersections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ids := s.engine.Intersections()
	if id := r.URL.Query().Get("intersection"); id != "" {
		ids = []signal.IntersectionID{signal.IntersectionID(id)}
	}
	views := make([]intersectionView, 0, len(ids))
	for _, id := range ids {
		v, err := s.intersection(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) intersection(id signal.IntersectionID) (intersectionView, error) {
	var v intersectionView
	var err error
	if v.Snapshot, err = s.engine.Snapshot(id); err != nil {
		return v, err
	}
	if v.Densities, err = s.engine.Densities(id); err != nil {
		return v, err
	}
	greens, err := s.engine.GreenDurations(id)
	if err != nil {
		return v, err
	}
	v.Green = make(map[signal.PhaseID]float64, len(greens))
	for p, d := range greens {
		v.Green[p] = d.Seconds()
	}
	return v, nil
}

// parseTimeParam accepts RFC 3339 or Unix seconds. Empty is the zero time.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or unix seconds", v)
	}
	return time.Unix(0, int64(secs*1e9)).UTC(), nil
}

// listEvents replays the event log of one intersection.
// Query params:
//
//	intersection (required)
//	from, to (optional, RFC 3339 or unix seconds, inclusive)
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	id := signal.IntersectionID(q.Get("intersection"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing 'intersection' parameter")
		return
	}
	if _, err := s.engine.Snapshot(id); err != nil {
		writeEngineError(w, err)
		return
	}
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' is before 'from'")
		return
	}

	events, err := s.engine.Events().Replay(r.Context(), id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to replay events: %v", err))
		return
	}
	if events == nil {
		events = []signal.TransitionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return nil, false
	}
	return body, true
}

// handleClaims submits claims (POST) and reports their status (GET, with
// an optional id).
func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := r.URL.Query().Get("id"); id != "" {
			info, ok := s.engine.Claim(id)
			if !ok {
				writeError(w, http.StatusNotFound, fmt.Sprintf("unknown claim %q", id))
				return
			}
			writeJSON(w, http.StatusOK, info)
			return
		}
		claims := s.engine.Claims()
		sort.Slice(claims, func(i, j int) bool { return claims[i].Claim.ID < claims[j].Claim.ID })
		if claims == nil {
			claims = []preempt.ClaimInfo{}
		}
		writeJSON(w, http.StatusOK, claims)

	case http.MethodPost:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		_, claim, err := s.decoder.DecodeAs(ingest.TypeEmergency, body, s.now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		stored, err := s.engine.SubmitClaim(*claim)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, stored)

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) submitDensity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	sample, _, err := s.decoder.DecodeAs(ingest.TypeDensity, body, s.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.engine.SubmitDensity(*sample); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sample)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.alerts == nil {
		writeError(w, http.StatusNotFound, "alert history is not persisted")
		return
	}
	limit := 50
	if l := strings.TrimSpace(r.URL.Query().Get("limit")); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "'limit' must be between 1 and 1000")
			return
		}
		limit = n
	}
	alerts, err := s.alerts.RecentAlerts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to retrieve alerts: %v", err))
		return
	}
	if alerts == nil {
		alerts = []signal.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}
