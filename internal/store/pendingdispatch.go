package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PendingDispatchRow is one queued trampoline call.
type PendingDispatchRow struct {
	ID          int64
	TargetRunID string
	CommandType string
	Payload     map[string]interface{}
	NotBefore   time.Time
}

// PendingDispatchRepository persists the trampoline queue of spec.md §5:
// instead of a Coordinator calling another Coordinator inline and growing
// the call stack, it enqueues a row here and schedules an immediate alarm.
type PendingDispatchRepository struct {
	db Querier
}

func NewPendingDispatchRepository(db Querier) *PendingDispatchRepository {
	return &PendingDispatchRepository{db: db}
}

func (r *PendingDispatchRepository) Enqueue(ctx context.Context, targetRunID, commandType string, payload map[string]interface{}, notBefore time.Time) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal pending dispatch payload: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO pending_dispatch (target_run_id, command_type, payload, not_before)
		VALUES ($1,$2,$3,$4)
	`, targetRunID, commandType, payloadJSON, notBefore)
	if err != nil {
		return fmt.Errorf("enqueue pending dispatch for run %s: %w", targetRunID, err)
	}
	return nil
}

// ClaimDue atomically claims up to limit rows whose not_before has passed
// and that no other worker has claimed, so the cron-backed supervisor and
// the alarm-triggered path never double-dispatch the same row.
func (r *PendingDispatchRepository) ClaimDue(ctx context.Context, limit int) ([]PendingDispatchRow, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE pending_dispatch
		SET claimed_at = now()
		WHERE id IN (
			SELECT id FROM pending_dispatch
			WHERE claimed_at IS NULL AND not_before <= now()
			ORDER BY not_before
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, target_run_id, command_type, payload, not_before
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due pending dispatch rows: %w", err)
	}
	defer rows.Close()

	var out []PendingDispatchRow
	for rows.Next() {
		var row PendingDispatchRow
		var payloadJSON []byte
		if err := rows.Scan(&row.ID, &row.TargetRunID, &row.CommandType, &payloadJSON, &row.NotBefore); err != nil {
			return nil, fmt.Errorf("scan pending dispatch row: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &row.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal pending dispatch payload: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending dispatch rows: %w", err)
	}
	return out, nil
}

func (r *PendingDispatchRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pending_dispatch WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending dispatch row %d: %w", id, err)
	}
	return nil
}
