package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/helixgraph/graphstream/internal/auth"
	"github.com/helixgraph/graphstream/internal/eventlog"
	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handlePublishEvent)
	mux.HandleFunc("GET /v1/events", s.handlePollEvents)
	mux.HandleFunc("GET /v1/events/latest", s.handleLatestEvents)
	mux.HandleFunc("GET /v1/version", s.handleCurrentVersion)
	mux.HandleFunc("POST /v1/entities/{type}/{id}/changes", s.handleTrackChange)
	mux.HandleFunc("GET /v1/entities/{type}/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/entities/{type}/{id}/versions/{version}", s.handleAtVersion)
	mux.HandleFunc("GET /v1/entities/{type}/{id}/at", s.handleAtTime)
	mux.HandleFunc("GET /v1/entities/{type}/{id}/diff", s.handleDiff)
	mux.HandleFunc("POST /v1/entities/{type}/{id}/rollback", s.handleRollback)
	mux.HandleFunc("POST /v1/entities/{type}/{id}/snapshots", s.handleCreateSnapshot)
	mux.HandleFunc("POST /v1/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("GET /v1/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("GET /v1/subscriptions/stats", s.handleSubscriptionStats)
	mux.HandleFunc("GET /v1/subscriptions/{id}", s.handleGetSubscription)
	mux.HandleFunc("POST /v1/subscriptions/{id}/ack", s.handleAckSubscription)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.handleDeleteSubscription)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	if s.stream != nil {
		mux.Handle("GET /v1/stream", s.stream)
	}

	var handler http.Handler = mux
	handler = AuthMiddleware(s.authn, handler)
	handler = LoggingMiddleware(s.logger, handler)
	handler = RecoveryMiddleware(s.logger, handler)
	return handler
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// publishEventRequest is the body of POST /v1/events. The actor comes from
// the authenticated identity, never from the body.
type publishEventRequest struct {
	GraphID       string           `json:"graphId,omitempty"`
	EventType     string           `json:"eventType"`
	EntityType    model.EntityType `json:"entityType"`
	EntityID      string           `json:"entityId"`
	EntityVersion int64            `json:"entityVersion,omitempty"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// handlePublishEvent handles POST /v1/events.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, err := s.log.Publish(r.Context(), eventlogRequest(identity, &req))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// pollResponse is the body of GET /v1/events: the events after the client's
// position plus the tenant's current version so the client can tell whether
// it is caught up.
type pollResponse struct {
	Events         []*model.Event `json:"events"`
	CurrentVersion string         `json:"currentVersion"`
}

// handlePollEvents handles GET /v1/events?sinceVersion=N.
func (s *Server) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	since := int64(0)
	if raw := r.URL.Query().Get("sinceVersion"); raw != "" {
		var err error
		if since, err = strconv.ParseInt(raw, 10, 64); err != nil || since < 0 {
			writeError(w, http.StatusBadRequest, "invalid sinceVersion")
			return
		}
	}
	q := store.EventQuery{
		GraphID: r.URL.Query().Get("graphId"),
		Limit:   queryInt(r, "limit"),
	}
	for _, raw := range r.URL.Query()["entityType"] {
		q.EntityTypes = append(q.EntityTypes, model.EntityType(raw))
	}

	events, err := s.log.EventsSince(r.Context(), identity.TenantID, since, q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	current, err := s.log.CurrentVersion(r.Context(), identity.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read current version")
		return
	}
	if events == nil {
		events = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, pollResponse{
		Events:         events,
		CurrentVersion: strconv.FormatInt(current, 10),
	})
}

// handleLatestEvents handles GET /v1/events/latest.
func (s *Server) handleLatestEvents(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	events, err := s.log.LatestEvents(r.Context(), identity.TenantID, r.URL.Query().Get("graphId"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleCurrentVersion handles GET /v1/version.
func (s *Server) handleCurrentVersion(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	current, err := s.log.CurrentVersion(r.Context(), identity.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read current version")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"currentVersion": strconv.FormatInt(current, 10),
	})
}

func eventlogRequest(identity *auth.Identity, req *publishEventRequest) eventlog.PublishRequest {
	return eventlog.PublishRequest{
		TenantID:      identity.TenantID,
		GraphID:       req.GraphID,
		EventType:     req.EventType,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		EntityVersion: req.EntityVersion,
		Actor:         identity.Actor(),
		Payload:       req.Payload,
		Metadata:      req.Metadata,
	}
}

// queryInt parses an integer query parameter, 0 when absent or malformed.
func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
