package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	return scanEventWith(row)
}

// scanEventWith scans an event row, optionally preceded by extra columns
// (used by the archival scan to read row_id alongside eventColumns).
func scanEventWith(row scannable, extra ...any) (*model.Event, error) {
	var (
		ev       model.Event
		payload  []byte
		metadata []byte
	)

	dest := append(extra,
		&ev.ID,
		&ev.TenantID,
		&ev.GraphID,
		&ev.EventType,
		&ev.EntityType,
		&ev.EntityID,
		&ev.EntityVersion,
		&ev.GlobalVersion,
		&ev.Actor.ID,
		&ev.Actor.Kind,
		&payload,
		&metadata,
		&ev.CreatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}

	if len(payload) > 0 {
		ev.Payload = json.RawMessage(payload)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return nil, err
		}
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// scanChange scans a single row into a model.ChangeRecord.
// The row must contain columns in the order defined by changeColumns.
func scanChange(row scannable) (*model.ChangeRecord, error) {
	var (
		ch          model.ChangeRecord
		prevVersion sql.NullInt64
		fields      []byte
		prevValues  []byte
		newValues   []byte
		metadata    []byte
	)

	err := row.Scan(
		&ch.ID,
		&ch.TenantID,
		&ch.EntityType,
		&ch.EntityID,
		&ch.Version,
		&prevVersion,
		&ch.Kind,
		&fields,
		&prevValues,
		&newValues,
		&ch.Actor.ID,
		&ch.Actor.Kind,
		&metadata,
		&ch.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if prevVersion.Valid {
		v := prevVersion.Int64
		ch.PreviousVersion = &v
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &ch.ChangedFields); err != nil {
			return nil, err
		}
	}
	if len(prevValues) > 0 {
		if err := json.Unmarshal(prevValues, &ch.PreviousValues); err != nil {
			return nil, err
		}
	}
	if len(newValues) > 0 {
		if err := json.Unmarshal(newValues, &ch.NewValues); err != nil {
			return nil, err
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ch.Metadata); err != nil {
			return nil, err
		}
	}
	return &ch, nil
}

func scanChanges(rows *sql.Rows) ([]*model.ChangeRecord, error) {
	var changes []*model.ChangeRecord
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// scanSnapshot scans a single row into a model.Snapshot.
func scanSnapshot(row scannable) (*model.Snapshot, error) {
	var (
		snap  model.Snapshot
		state []byte
	)

	err := row.Scan(
		&snap.TenantID,
		&snap.EntityType,
		&snap.EntityID,
		&snap.Version,
		&state,
		&snap.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if len(state) > 0 {
		if err := json.Unmarshal(state, &snap.State); err != nil {
			return nil, err
		}
	}
	return &snap, nil
}

// scanSubscription scans a single row into a model.Subscription.
// The row must contain columns in the order defined by subscriptionColumns.
func scanSubscription(row scannable) (*model.Subscription, error) {
	var (
		sub       model.Subscription
		scopes    []byte
		filters   []byte
		options   []byte
		lastAckAt sql.NullTime
	)

	err := row.Scan(
		&sub.ID,
		&sub.TenantID,
		&sub.ClientID,
		&sub.Product,
		&sub.ProductVersion,
		&scopes,
		&filters,
		&options,
		&sub.IsActive,
		&sub.LastAckVersion,
		&lastAckAt,
		&sub.ExpiresAt,
		&sub.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &sub.Scopes); err != nil {
			return nil, err
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &sub.Filters); err != nil {
			return nil, err
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &sub.Options); err != nil {
			return nil, err
		}
	}
	if lastAckAt.Valid {
		t := lastAckAt.Time
		sub.LastAckAt = &t
	}
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// jsonbMap marshals a map for a JSONB column, writing NULL for empty maps.
func jsonbMap(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// jsonbState marshals an entity state for a JSONB column.
func jsonbState(s model.EntityState) any {
	return jsonbMap(map[string]any(s))
}

// jsonbStrings marshals a string slice for a JSONB column, writing the empty
// JSON array for nil slices.
func jsonbStrings(s []string) any {
	if s == nil {
		s = []string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return data
}

// jsonbRaw passes through raw JSON for a JSONB column, writing NULL when empty.
func jsonbRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// jsonbValue marshals an arbitrary value for a JSONB column. Typed nil
// pointers become NULL.
func jsonbValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return data
}

// nullInt64Ptr converts an optional int64 into a driver-friendly value.
func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullTimePtr converts an optional time into a driver-friendly value.
func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
