package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, tenant_id, graph_id, event_type, entity_type, entity_id,
	entity_version, global_version, actor_id, actor_kind, payload, metadata, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryNextGlobalVersion atomically increments and returns the tenant's
// version counter, creating the row at 1 when absent. The read-modify-write
// happens inside the single statement, so two concurrent publishers can
// never be handed the same version.
func queryNextGlobalVersion(ctx context.Context, db executor, tenantID string) (int64, error) {
	var version int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO tenant_versions (tenant_id, current_version)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE
		SET current_version = tenant_versions.current_version + 1,
		    updated_at = now()
		RETURNING current_version`,
		tenantID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("increment tenant version: %w", err)
	}
	return version, nil
}

func queryGetCurrentVersion(ctx context.Context, db executor, tenantID string) (int64, error) {
	var version int64
	err := db.QueryRowContext(ctx,
		`SELECT current_version FROM tenant_versions WHERE tenant_id = $1`,
		tenantID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// Tenant has never published.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func queryInsertEvent(ctx context.Context, db executor, ev *model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (
			id, tenant_id, graph_id, event_type, entity_type, entity_id,
			entity_version, global_version, actor_id, actor_kind, payload, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13
		)`,
		ev.ID,
		ev.TenantID,
		ev.GraphID,
		ev.EventType,
		string(ev.EntityType),
		ev.EntityID,
		ev.EntityVersion,
		ev.GlobalVersion,
		ev.Actor.ID,
		string(ev.Actor.Kind),
		jsonbRaw(ev.Payload),
		jsonbMap(ev.Metadata),
		ev.CreatedAt,
	)
	return err
}

func queryGetEventsSince(ctx context.Context, db executor, tenantID string, sinceVersion int64, q store.EventQuery) ([]*model.Event, error) {
	limit := q.Limit
	if limit <= 0 || limit > store.DefaultEventLimit {
		limit = store.DefaultEventLimit
	}

	var (
		conds = []string{"tenant_id = $1", "global_version > $2"}
		args  = []any{tenantID, sinceVersion}
	)
	if q.GraphID != "" {
		args = append(args, q.GraphID)
		conds = append(conds, fmt.Sprintf("graph_id = $%d", len(args)))
	}
	if len(q.EntityTypes) > 0 {
		placeholders := make([]string, 0, len(q.EntityTypes))
		for _, et := range q.EntityTypes {
			args = append(args, string(et))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, "entity_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	args = append(args, limit)

	query := `SELECT ` + eventColumns + ` FROM events WHERE ` +
		strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY global_version ASC LIMIT $%d", len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func queryGetLatestEvents(ctx context.Context, db executor, tenantID, graphID string, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE tenant_id = $1`
	args := []any{tenantID}
	if graphID != "" {
		query += ` AND graph_id = $2`
		args = append(args, graphID)
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY global_version DESC LIMIT $%d`, len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func queryGetEventsAfterRow(ctx context.Context, db executor, afterRow int64, limit int) ([]*model.Event, int64, error) {
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}

	rows, err := db.QueryContext(ctx,
		`SELECT row_id, `+eventColumns+` FROM events WHERE row_id > $1 ORDER BY row_id ASC LIMIT $2`,
		afterRow, limit,
	)
	if err != nil {
		return nil, afterRow, err
	}
	defer rows.Close()

	var (
		events  []*model.Event
		lastRow = afterRow
	)
	for rows.Next() {
		var rowID int64
		ev, err := scanEventWith(rows, &rowID)
		if err != nil {
			return nil, afterRow, err
		}
		events = append(events, ev)
		lastRow = rowID
	}
	return events, lastRow, rows.Err()
}
