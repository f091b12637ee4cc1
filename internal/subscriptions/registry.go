// Package subscriptions manages durable subscription records: creation,
// lookup, event matching, ack tracking, and expiry cleanup.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixgraph/graphstream/internal/idgen"
	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// InactiveRetention is how long an inactive (unsubscribed or disconnected)
// subscription is kept before the sweep removes it. Keeping it lets a
// reconnecting client resume its ack position.
const InactiveRetention = 24 * time.Hour

// Registry is the subscription lifecycle service.
type Registry struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a registry backed by the given store.
func New(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, logger: logger, now: time.Now}
}

// CreateRequest describes a new subscription.
type CreateRequest struct {
	TenantID       string
	ClientID       string
	Product        string
	ProductVersion string
	Scopes         []model.Scope
	Filters        *model.Filters
	Options        model.DeliveryOptions
	TTL            time.Duration // 0 = model.DefaultSubscriptionTTL
}

// Create validates and persists a new active subscription.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*model.Subscription, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = model.DefaultSubscriptionTTL
	}
	id, err := idgen.Generate(idgen.SubscriptionPrefix)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	options := req.Options
	if options.Mode == "" {
		options.Mode = model.DeliveryRealtime
	}
	sub := &model.Subscription{
		ID:             id,
		TenantID:       req.TenantID,
		ClientID:       req.ClientID,
		Product:        req.Product,
		ProductVersion: req.ProductVersion,
		Scopes:         req.Scopes,
		Filters:        req.Filters,
		Options:        options,
		IsActive:       true,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("invalid subscription: %w", err)
	}
	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}

	r.logger.Info("subscription created",
		"subscription_id", sub.ID, "tenant_id", sub.TenantID,
		"client_id", sub.ClientID, "mode", sub.Options.Mode)
	return sub, nil
}

// FindByID returns a subscription by id.
func (r *Registry) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading subscription: %w", err)
	}
	return sub, nil
}

// FindActiveByTenant returns the tenant's active subscriptions.
func (r *Registry) FindActiveByTenant(ctx context.Context, tenantID string) ([]*model.Subscription, error) {
	subs, err := r.store.ListActiveSubscriptions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}
	return subs, nil
}

// FindByClient returns a client's active subscriptions in the tenant.
// Deactivated subscriptions are not resumable and stay hidden.
func (r *Registry) FindByClient(ctx context.Context, tenantID, clientID string) ([]*model.Subscription, error) {
	subs, err := r.store.ListClientSubscriptions(ctx, tenantID, clientID)
	if err != nil {
		return nil, fmt.Errorf("listing client subscriptions: %w", err)
	}
	return subs, nil
}

// FindMatching returns the tenant's active, unexpired subscriptions whose
// scopes and filters match the event.
func (r *Registry) FindMatching(ctx context.Context, ev *model.Event) ([]*model.Subscription, error) {
	subs, err := r.store.ListActiveSubscriptions(ctx, ev.TenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}

	now := r.now()
	var matched []*model.Subscription
	for _, sub := range subs {
		if sub.ExpiresAt.Before(now) {
			continue
		}
		if sub.Matches(ev) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// Ack records that the client has processed events through the given global
// version.
func (r *Registry) Ack(ctx context.Context, id string, version int64) error {
	if err := r.store.UpdateSubscriptionAck(ctx, id, version, r.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("recording ack: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a subscription. The row survives until the sweep
// so the client's ack position outlives a disconnect.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	if err := r.store.DeactivateSubscription(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("deactivating subscription: %w", err)
	}
	return nil
}

// CleanupExpired hard-deletes subscriptions past their expiry and inactive
// subscriptions idle longer than InactiveRetention. Active, unexpired
// subscriptions are never touched.
func (r *Registry) CleanupExpired(ctx context.Context) (int64, error) {
	now := r.now().UTC()
	deleted, err := r.store.DeleteExpiredSubscriptions(ctx, now, now.Add(-InactiveRetention))
	if err != nil {
		return 0, fmt.Errorf("deleting expired subscriptions: %w", err)
	}
	if deleted > 0 {
		r.logger.Info("expired subscriptions removed", "count", deleted)
	}
	return deleted, nil
}

// Stats summarizes the tenant's active subscriptions.
func (r *Registry) Stats(ctx context.Context, tenantID string) (*store.SubscriptionStats, error) {
	stats, err := r.store.GetSubscriptionStats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading subscription stats: %w", err)
	}
	return stats, nil
}
