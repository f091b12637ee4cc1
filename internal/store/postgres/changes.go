package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// changeColumns is the column list used for SELECT statements on the
// entity_changes table.
const changeColumns = `id, tenant_id, entity_type, entity_id, version, previous_version,
	kind, changed_fields, previous_values, new_values, actor_id, actor_kind, metadata, created_at`

func queryInsertChange(ctx context.Context, db executor, ch *model.ChangeRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO entity_changes (
			id, tenant_id, entity_type, entity_id, version, previous_version,
			kind, changed_fields, previous_values, new_values, actor_id, actor_kind, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14
		)`,
		ch.ID,
		ch.TenantID,
		string(ch.EntityType),
		ch.EntityID,
		ch.Version,
		nullInt64Ptr(ch.PreviousVersion),
		string(ch.Kind),
		jsonbStrings(ch.ChangedFields),
		jsonbState(ch.PreviousValues),
		jsonbState(ch.NewValues),
		ch.Actor.ID,
		string(ch.Actor.Kind),
		jsonbMap(ch.Metadata),
		ch.CreatedAt,
	)
	return err
}

func queryGetChanges(ctx context.Context, db executor, tenantID string, entityType model.EntityType, entityID string, q store.HistoryQuery) ([]*model.ChangeRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	var (
		conds = []string{"tenant_id = $1", "entity_type = $2", "entity_id = $3"}
		args  = []any{tenantID, string(entityType), entityID}
	)
	if q.FromVersion > 0 {
		args = append(args, q.FromVersion)
		conds = append(conds, fmt.Sprintf("version >= $%d", len(args)))
	}
	if q.ToVersion > 0 {
		args = append(args, q.ToVersion)
		conds = append(conds, fmt.Sprintf("version <= $%d", len(args)))
	}
	args = append(args, limit, q.Offset)

	query := `SELECT ` + changeColumns + ` FROM entity_changes WHERE ` +
		strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY version DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChanges(rows)
}

func queryGetChangeRange(ctx context.Context, db executor, tenantID string, entityType model.EntityType, entityID string, afterVersion, throughVersion int64) ([]*model.ChangeRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+changeColumns+` FROM entity_changes
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		  AND version > $4 AND version <= $5
		ORDER BY version ASC`,
		tenantID, string(entityType), entityID, afterVersion, throughVersion,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChanges(rows)
}

func queryGetLatestChange(ctx context.Context, db executor, tenantID string, entityType model.EntityType, entityID string) (*model.ChangeRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+changeColumns+` FROM entity_changes
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY version DESC LIMIT 1`,
		tenantID, string(entityType), entityID,
	)
	return scanChange(row)
}

func queryGetChangeAtOrBefore(ctx context.Context, db executor, tenantID string, entityType model.EntityType, entityID string, ts time.Time) (*model.ChangeRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+changeColumns+` FROM entity_changes
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND created_at <= $4
		ORDER BY version DESC LIMIT 1`,
		tenantID, string(entityType), entityID, ts,
	)
	return scanChange(row)
}

func queryUpsertSnapshot(ctx context.Context, db executor, snap *model.Snapshot) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO entity_snapshots (tenant_id, entity_type, entity_id, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, entity_type, entity_id, version)
		DO UPDATE SET state = EXCLUDED.state`,
		snap.TenantID,
		string(snap.EntityType),
		snap.EntityID,
		snap.Version,
		jsonbState(snap.State),
		snap.CreatedAt,
	)
	return err
}

func queryGetSnapshot(ctx context.Context, db executor, tenantID string, entityType model.EntityType, entityID string, version int64) (*model.Snapshot, error) {
	row := db.QueryRowContext(ctx, `
		SELECT tenant_id, entity_type, entity_id, version, state, created_at
		FROM entity_snapshots
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND version = $4`,
		tenantID, string(entityType), entityID, version,
	)
	return scanSnapshot(row)
}

func queryGetNearestSnapshot(ctx context.Context, db executor, tenantID string, entityType model.EntityType, entityID string, maxVersion int64) (*model.Snapshot, error) {
	row := db.QueryRowContext(ctx, `
		SELECT tenant_id, entity_type, entity_id, version, state, created_at
		FROM entity_snapshots
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND version <= $4
		ORDER BY version DESC LIMIT 1`,
		tenantID, string(entityType), entityID, maxVersion,
	)
	return scanSnapshot(row)
}
