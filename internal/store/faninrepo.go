package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wonderhq/coordinator/internal/model"
)

// FanInRepository persists fan-in rendezvous records.
type FanInRepository struct {
	db Querier
}

func NewFanInRepository(db Querier) *FanInRepository {
	return &FanInRepository{db: db}
}

// TryCreate inserts a fan-in record, relying on the (run_id, sibling_group,
// fan_in_node_id) primary key to make creation idempotent: this is the
// first atomicity primitive of spec.md §5. created reports whether this
// call is the one that actually created the row.
func (r *FanInRepository) TryCreate(ctx context.Context, runID string, f model.FanIn) (created bool, err error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO fan_ins (run_id, sibling_group, fan_in_node_id, wait_for_kind, wait_for_m, total, arrived)
		VALUES ($1,$2,$3,$4,$5,$6,0)
		ON CONFLICT (run_id, sibling_group, fan_in_node_id) DO NOTHING
	`, runID, f.SiblingGroup, f.FanInNodeID, f.WaitFor.Kind, f.WaitFor.M, f.Total)
	if err != nil {
		return false, fmt.Errorf("try create fan-in %s: %w", f.Key(), err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementArrived bumps the arrived counter and returns the new count.
func (r *FanInRepository) IncrementArrived(ctx context.Context, runID, siblingGroup, fanInNodeID string) (int, error) {
	var arrived int
	err := r.db.QueryRow(ctx, `
		UPDATE fan_ins SET arrived = arrived + 1
		WHERE run_id = $1 AND sibling_group = $2 AND fan_in_node_id = $3
		RETURNING arrived
	`, runID, siblingGroup, fanInNodeID).Scan(&arrived)
	if err != nil {
		return 0, fmt.Errorf("increment fan-in arrived: %w", err)
	}
	return arrived, nil
}

// TryActivate flips activated_at from NULL to now(), atomically, so exactly
// one caller observes rowsAffected == 1 even under concurrent arrivals —
// the second atomicity primitive of spec.md §5.
func (r *FanInRepository) TryActivate(ctx context.Context, runID, siblingGroup, fanInNodeID, mergedTokenID string) (activated bool, err error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE fan_ins SET activated_at = now(), merged_token_id = $4
		WHERE run_id = $1 AND sibling_group = $2 AND fan_in_node_id = $3 AND activated_at IS NULL
	`, runID, siblingGroup, fanInNodeID, mergedTokenID)
	if err != nil {
		return false, fmt.Errorf("activate fan-in: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *FanInRepository) Get(ctx context.Context, runID, siblingGroup, fanInNodeID string) (model.FanIn, bool, error) {
	var f model.FanIn
	f.SiblingGroup = siblingGroup
	f.FanInNodeID = fanInNodeID
	err := r.db.QueryRow(ctx, `
		SELECT wait_for_kind, wait_for_m, total, arrived, activated_at, merged_token_id
		FROM fan_ins WHERE run_id = $1 AND sibling_group = $2 AND fan_in_node_id = $3
	`, runID, siblingGroup, fanInNodeID).Scan(
		&f.WaitFor.Kind, &f.WaitFor.M, &f.Total, &f.Arrived, &f.ActivatedAt, &f.MergedTokenID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.FanIn{}, false, nil
		}
		return model.FanIn{}, false, fmt.Errorf("get fan-in: %w", err)
	}
	return f, true, nil
}

func (r *FanInRepository) ListByRun(ctx context.Context, runID string) ([]model.FanIn, error) {
	rows, err := r.db.Query(ctx, `
		SELECT sibling_group, fan_in_node_id, wait_for_kind, wait_for_m, total, arrived, activated_at, merged_token_id
		FROM fan_ins WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list fan-ins for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []model.FanIn
	for rows.Next() {
		var f model.FanIn
		if err := rows.Scan(&f.SiblingGroup, &f.FanInNodeID, &f.WaitFor.Kind, &f.WaitFor.M,
			&f.Total, &f.Arrived, &f.ActivatedAt, &f.MergedTokenID); err != nil {
			return nil, fmt.Errorf("scan fan-in: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fan-ins: %w", err)
	}
	return out, nil
}
