// Package archive exports the append-only event log to external storage as
// JSONL, for retention beyond the database and for offline analysis. Export
// is incremental: each run picks up after the last storage row shipped.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// exportBatchSize is how many events are fetched per store round-trip.
const exportBatchSize = 1000

// header is the first JSONL record of every export file.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AfterRow  int64     `json:"afterRow"`
}

// record wraps one JSONL line with a type discriminator.
type record struct {
	Type string       `json:"type"`
	Data *model.Event `json:"data"`
}

// Exporter streams events out of the store.
type Exporter struct {
	store store.Store
}

// NewExporter creates an exporter over the store.
func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st}
}

// ExportSince writes every event after the given storage row to w as JSONL
// and returns the last row shipped plus the event count. A zero count means
// nothing new was written (not even a header).
func (e *Exporter) ExportSince(ctx context.Context, afterRow int64, w io.Writer) (int64, int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	cursor := afterRow
	count := 0
	for {
		events, lastRow, err := e.store.GetEventsAfterRow(ctx, cursor, exportBatchSize)
		if err != nil {
			return cursor, count, fmt.Errorf("reading events after row %d: %w", cursor, err)
		}
		if len(events) == 0 {
			return cursor, count, nil
		}

		if count == 0 {
			if err := enc.Encode(header{
				Version:   "1",
				Type:      "header",
				Timestamp: time.Now().UTC(),
				AfterRow:  afterRow,
			}); err != nil {
				return cursor, count, fmt.Errorf("writing header: %w", err)
			}
		}
		for _, ev := range events {
			if err := enc.Encode(record{Type: "event", Data: ev}); err != nil {
				return cursor, count, fmt.Errorf("writing event %s: %w", ev.ID, err)
			}
			count++
		}
		cursor = lastRow
	}
}
