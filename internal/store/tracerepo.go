package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wonderhq/coordinator/internal/trace"
)

// TraceRepository persists trace.Event rows, batched by the emitter rather
// than one insert per event.
type TraceRepository struct {
	db Querier
}

func NewTraceRepository(db Querier) *TraceRepository {
	return &TraceRepository{db: db}
}

func (r *TraceRepository) InsertBatch(ctx context.Context, events []trace.Event) error {
	for _, e := range events {
		detailJSON, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal trace event detail: %w", err)
		}
		_, err = r.db.Exec(ctx, `
			INSERT INTO trace_events (id, run_id, kind, token_id, node_id, detail, occurred_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, e.ID, e.RunID, e.Kind, e.TokenID, e.NodeID, detailJSON, e.Timestamp)
		if err != nil {
			return fmt.Errorf("insert trace event %s: %w", e.ID, err)
		}
	}
	return nil
}

func (r *TraceRepository) ListByRun(ctx context.Context, runID string) ([]trace.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, run_id, kind, token_id, node_id, detail, occurred_at
		FROM trace_events WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trace events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []trace.Event
	for rows.Next() {
		var e trace.Event
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.TokenID, &e.NodeID, &detailJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal trace event detail: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace events: %w", err)
	}
	return out, nil
}
