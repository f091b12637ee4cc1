package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
	"github.com/helixgraph/graphstream/internal/subscriptions"
)

// createSubscriptionRequest is the body of POST /v1/subscriptions. The HTTP
// surface is how polling clients register; realtime and batched clients
// usually subscribe over the stream instead.
type createSubscriptionRequest struct {
	ClientID       string                `json:"clientId"`
	Product        string                `json:"product,omitempty"`
	ProductVersion string                `json:"productVersion,omitempty"`
	Scopes         []model.Scope         `json:"scopes"`
	Filters        *model.Filters        `json:"filters,omitempty"`
	Options        model.DeliveryOptions `json:"options"`
}

// handleCreateSubscription handles POST /v1/subscriptions.
func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := s.registry.Create(r.Context(), subscriptions.CreateRequest{
		TenantID:       identity.TenantID,
		ClientID:       req.ClientID,
		Product:        req.Product,
		ProductVersion: req.ProductVersion,
		Scopes:         req.Scopes,
		Filters:        req.Filters,
		Options:        req.Options,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// handleListSubscriptions handles GET /v1/subscriptions?clientId=...; without
// clientId it lists the tenant's active subscriptions.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var (
		subs []*model.Subscription
		err  error
	)
	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		subs, err = s.registry.FindByClient(r.Context(), identity.TenantID, clientID)
	} else {
		subs, err = s.registry.FindActiveByTenant(r.Context(), identity.TenantID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []*model.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// handleGetSubscription handles GET /v1/subscriptions/{id}.
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	sub, err := s.subscriptionForTenant(r, identity.TenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ackRequest is the body of POST /v1/subscriptions/{id}/ack. The version is
// a string for the same reason global versions are strings everywhere on
// the wire.
type ackRequest struct {
	Version string `json:"version"`
}

// handleAckSubscription handles POST /v1/subscriptions/{id}/ack.
func (s *Server) handleAckSubscription(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	sub, err := s.subscriptionForTenant(r, identity.TenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	version, err := strconv.ParseInt(req.Version, 10, 64)
	if err != nil || version < 0 {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	if err := s.registry.Ack(r.Context(), sub.ID, version); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record ack")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": req.Version})
}

// handleDeleteSubscription handles DELETE /v1/subscriptions/{id}.
func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	sub, err := s.subscriptionForTenant(r, identity.TenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := s.registry.Deactivate(r.Context(), sub.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to deactivate subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubscriptionStats handles GET /v1/subscriptions/stats.
func (s *Server) handleSubscriptionStats(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	stats, err := s.registry.Stats(r.Context(), identity.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// subscriptionForTenant loads the subscription in the path and enforces that
// it belongs to the caller's tenant. Foreign subscriptions are
// indistinguishable from missing ones.
func (s *Server) subscriptionForTenant(r *http.Request, tenantID string) (*model.Subscription, error) {
	sub, err := s.registry.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if sub.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return sub, nil
}
