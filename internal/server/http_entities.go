package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
	"github.com/helixgraph/graphstream/internal/versioning"
)

// trackChangeRequest is the body of POST /v1/entities/{type}/{id}/changes.
type trackChangeRequest struct {
	Kind     model.ChangeKind  `json:"kind,omitempty"`
	State    model.EntityState `json:"state"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// handleTrackChange handles POST /v1/entities/{type}/{id}/changes.
func (s *Server) handleTrackChange(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req trackChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ch, err := s.tracker.TrackChange(r.Context(), versioning.TrackRequest{
		TenantID:   identity.TenantID,
		EntityType: model.EntityType(r.PathValue("type")),
		EntityID:   r.PathValue("id"),
		Kind:       req.Kind,
		State:      req.State,
		Actor:      identity.Actor(),
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.writeVersioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// handleHistory handles GET /v1/entities/{type}/{id}/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	q := store.HistoryQuery{
		Limit:       queryInt(r, "limit"),
		Offset:      queryInt(r, "offset"),
		FromVersion: int64(queryInt(r, "fromVersion")),
		ToVersion:   int64(queryInt(r, "toVersion")),
	}
	changes, err := s.tracker.History(r.Context(), identity.TenantID, model.EntityType(r.PathValue("type")), r.PathValue("id"), q)
	if err != nil {
		s.writeVersioningError(w, err)
		return
	}
	if changes == nil {
		changes = []*model.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

// handleAtVersion handles GET /v1/entities/{type}/{id}/versions/{version}.
func (s *Server) handleAtVersion(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	version, err := strconv.ParseInt(r.PathValue("version"), 10, 64)
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	state, err := s.tracker.AtVersion(r.Context(), identity.TenantID, model.EntityType(r.PathValue("type")), r.PathValue("id"), version)
	if err != nil {
		s.writeVersioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleAtTime handles GET /v1/entities/{type}/{id}/at?time=RFC3339.
func (s *Server) handleAtTime(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time, want RFC 3339")
		return
	}
	state, err := s.tracker.AtTime(r.Context(), identity.TenantID, model.EntityType(r.PathValue("type")), r.PathValue("id"), ts)
	if err != nil {
		s.writeVersioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleDiff handles GET /v1/entities/{type}/{id}/diff?from=N&to=M.
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	from := int64(queryInt(r, "from"))
	to := int64(queryInt(r, "to"))
	diff, err := s.tracker.Diff(r.Context(), identity.TenantID, model.EntityType(r.PathValue("type")), r.PathValue("id"), from, to)
	if err != nil {
		s.writeVersioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// rollbackRequest is the body of POST /v1/entities/{type}/{id}/rollback.
type rollbackRequest struct {
	ToVersion int64 `json:"toVersion"`
}

// handleRollback handles POST /v1/entities/{type}/{id}/rollback.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ch, err := s.tracker.Rollback(r.Context(), identity.TenantID, model.EntityType(r.PathValue("type")), r.PathValue("id"), req.ToVersion, identity.Actor(), nil)
	if err != nil {
		s.writeVersioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// snapshotRequest is the body of POST /v1/entities/{type}/{id}/snapshots.
type snapshotRequest struct {
	Version int64 `json:"version"`
}

// handleCreateSnapshot handles POST /v1/entities/{type}/{id}/snapshots.
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	snap, err := s.tracker.CreateSnapshot(r.Context(), identity.TenantID, model.EntityType(r.PathValue("type")), r.PathValue("id"), req.Version)
	if err != nil {
		s.writeVersioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// writeVersioningError maps tracker errors to HTTP statuses. A version gap
// is reported as a conflict: the history exists but cannot be replayed.
func (s *Server) writeVersioningError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, versioning.ErrVersionGap):
		s.logger.Error("version history gap detected", "error", err)
		writeError(w, http.StatusConflict, "version history is not contiguous")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
