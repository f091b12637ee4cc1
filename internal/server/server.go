// Package server exposes the HTTP surface: event publishing and polling,
// entity version history, subscription management, and the websocket
// stream endpoint.
package server

import (
	"log/slog"

	"github.com/helixgraph/graphstream/internal/auth"
	"github.com/helixgraph/graphstream/internal/eventlog"
	"github.com/helixgraph/graphstream/internal/gateway"
	"github.com/helixgraph/graphstream/internal/store"
	"github.com/helixgraph/graphstream/internal/subscriptions"
	"github.com/helixgraph/graphstream/internal/versioning"
)

// Server wires the core services behind the HTTP API.
type Server struct {
	store    store.Store
	log      *eventlog.Log
	tracker  *versioning.Tracker
	registry *subscriptions.Registry
	stream   *gateway.Handler
	authn    auth.Authenticator
	logger   *slog.Logger
}

// New returns a server over the given services. stream may be nil when the
// websocket gateway is not mounted (e.g. in narrow tests).
func New(st store.Store, log *eventlog.Log, tracker *versioning.Tracker, registry *subscriptions.Registry, stream *gateway.Handler, authn auth.Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		log:      log,
		tracker:  tracker,
		registry: registry,
		stream:   stream,
		authn:    authn,
		logger:   logger,
	}
}
