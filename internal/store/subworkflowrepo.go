package store

import (
	"context"
	"fmt"

	"github.com/wonderhq/coordinator/internal/model"
)

// SubworkflowRepository tracks parent tokens waiting on child runs.
type SubworkflowRepository struct {
	db Querier
}

func NewSubworkflowRepository(db Querier) *SubworkflowRepository {
	return &SubworkflowRepository{db: db}
}

func (r *SubworkflowRepository) Create(ctx context.Context, runID string, sw model.Subworkflow) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subworkflows (run_id, parent_token_id, child_run_id, on_failure)
		VALUES ($1,$2,$3,$4)
	`, runID, sw.ParentTokenID, sw.ChildRunID, sw.OnFailure)
	if err != nil {
		return fmt.Errorf("create subworkflow record for token %s: %w", sw.ParentTokenID, err)
	}
	return nil
}

// SetChildRunID fills in the child run id once StartSubworkflow's phase-2
// effect actually creates the child run; the row is written without it at
// INIT_SUBWORKFLOW_RECORD time since planning never calls out to a client.
func (r *SubworkflowRepository) SetChildRunID(ctx context.Context, runID, parentTokenID, childRunID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subworkflows SET child_run_id = $3 WHERE run_id = $1 AND parent_token_id = $2
	`, runID, parentTokenID, childRunID)
	if err != nil {
		return fmt.Errorf("set child run id for token %s: %w", parentTokenID, err)
	}
	return nil
}

func (r *SubworkflowRepository) ListByRun(ctx context.Context, runID string) ([]model.Subworkflow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT parent_token_id, child_run_id, on_failure FROM subworkflows WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list subworkflows for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []model.Subworkflow
	for rows.Next() {
		var sw model.Subworkflow
		if err := rows.Scan(&sw.ParentTokenID, &sw.ChildRunID, &sw.OnFailure); err != nil {
			return nil, fmt.Errorf("scan subworkflow: %w", err)
		}
		out = append(out, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subworkflows: %w", err)
	}
	return out, nil
}
