package model

import "time"

// Snapshot is a cached full-state materialization of an entity at a known
// version. Snapshots are a pure optimization: reconstruction never requires
// one, and a snapshot's state must equal what incremental replay from
// version 1 would produce. Upserts are idempotent on
// (tenant, entity type, entity id, version).
type Snapshot struct {
	TenantID   string      `json:"tenantId"`
	EntityType EntityType  `json:"entityType"`
	EntityID   string      `json:"entityId"`
	Version    int64       `json:"version"`
	State      EntityState `json:"state"`
	CreatedAt  time.Time   `json:"createdAt"`
}
