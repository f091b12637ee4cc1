package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// subscriptionColumns is the column list used for SELECT statements on the
// subscriptions table.
const subscriptionColumns = `id, tenant_id, client_id, product, product_version,
	scopes, filters, options, is_active, last_ack_version, last_ack_at, expires_at, created_at`

func queryCreateSubscription(ctx context.Context, db executor, sub *model.Subscription) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, tenant_id, client_id, product, product_version,
			scopes, filters, options, is_active, last_ack_version, last_ack_at, expires_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12, $13
		)`,
		sub.ID,
		sub.TenantID,
		sub.ClientID,
		sub.Product,
		sub.ProductVersion,
		jsonbValue(sub.Scopes),
		jsonbValue(sub.Filters),
		jsonbValue(sub.Options),
		sub.IsActive,
		sub.LastAckVersion,
		nullTimePtr(sub.LastAckAt),
		sub.ExpiresAt,
		sub.CreatedAt,
	)
	return err
}

func queryGetSubscription(ctx context.Context, db executor, id string) (*model.Subscription, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func queryListActiveSubscriptions(ctx context.Context, db executor, tenantID string) ([]*model.Subscription, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1 AND is_active
		ORDER BY created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func queryListClientSubscriptions(ctx context.Context, db executor, tenantID, clientID string) ([]*model.Subscription, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1 AND client_id = $2 AND is_active
		ORDER BY created_at ASC`,
		tenantID, clientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func queryUpdateSubscriptionAck(ctx context.Context, db executor, id string, version int64, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE subscriptions SET last_ack_version = $2, last_ack_at = $3 WHERE id = $1`,
		id, version, at,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func queryDeactivateSubscription(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func queryDeleteExpiredSubscriptions(ctx context.Context, db executor, now, inactiveCutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM subscriptions
		WHERE expires_at < $1
		   OR (NOT is_active AND last_ack_at IS NOT NULL AND last_ack_at < $2)
		   OR (NOT is_active AND last_ack_at IS NULL AND created_at < $2)`,
		now, inactiveCutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryGetSubscriptionStats(ctx context.Context, db executor, tenantID string) (*store.SubscriptionStats, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT product, COUNT(*) FROM subscriptions
		WHERE tenant_id = $1 AND is_active
		GROUP BY product`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &store.SubscriptionStats{ByProduct: make(map[string]int)}
	for rows.Next() {
		var (
			product string
			count   int
		)
		if err := rows.Scan(&product, &count); err != nil {
			return nil, err
		}
		stats.ByProduct[product] = count
		stats.TotalActive += count
	}
	return stats, rows.Err()
}

// requireRow converts a zero-rows-affected update into store.ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// notFound maps sql.ErrNoRows to store.ErrNotFound, passing other errors through.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
