package store

import (
	"context"
	"fmt"

	"github.com/wonderhq/coordinator/internal/model"
)

// TokenRepository persists model.Token rows for one run.
type TokenRepository struct {
	db Querier
}

func NewTokenRepository(db Querier) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, t model.Token) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tokens (id, run_id, node_id, status, parent_token_id,
			fan_out_transition_id, branch_index, branch_total, path_id,
			sibling_group, created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, t.ID, t.RunID, t.NodeID, t.Status, t.ParentTokenID, t.FanOutTransitionID,
		t.BranchIndex, t.BranchTotal, t.PathID, t.SiblingGroup, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("create token %s: %w", t.ID, err)
	}
	return nil
}

func (r *TokenRepository) CreateBatch(ctx context.Context, tokens []model.Token) error {
	batch := make([][]interface{}, 0, len(tokens))
	for _, t := range tokens {
		batch = append(batch, []interface{}{
			t.ID, t.RunID, t.NodeID, t.Status, t.ParentTokenID, t.FanOutTransitionID,
			t.BranchIndex, t.BranchTotal, t.PathID, t.SiblingGroup, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
		})
	}
	for _, row := range batch {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO tokens (id, run_id, node_id, status, parent_token_id,
				fan_out_transition_id, branch_index, branch_total, path_id,
				sibling_group, created_at, updated_at, completed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, row...); err != nil {
			return fmt.Errorf("batch create tokens: %w", err)
		}
	}
	return nil
}

func (r *TokenRepository) UpdateStatus(ctx context.Context, tokenID string, status model.TokenStatus, completedAt interface{}) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tokens SET status = $2, updated_at = now(), completed_at = $3
		WHERE id = $1
	`, tokenID, status, completedAt)
	if err != nil {
		return fmt.Errorf("update token status %s: %w", tokenID, err)
	}
	return nil
}

// GetStatus returns a token's current status, needed by internal/apply to
// validate a transition whose decision payload carries no From (CancelToken,
// MarkWaiting).
func (r *TokenRepository) GetStatus(ctx context.Context, tokenID string) (model.TokenStatus, error) {
	var status model.TokenStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM tokens WHERE id = $1`, tokenID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("get token status %s: %w", tokenID, err)
	}
	return status, nil
}

func (r *TokenRepository) ListByRun(ctx context.Context, runID string) ([]model.Token, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, run_id, node_id, status, parent_token_id, fan_out_transition_id,
			branch_index, branch_total, path_id, sibling_group, created_at, updated_at, completed_at
		FROM tokens WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tokens for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []model.Token
	for rows.Next() {
		var t model.Token
		if err := rows.Scan(&t.ID, &t.RunID, &t.NodeID, &t.Status, &t.ParentTokenID,
			&t.FanOutTransitionID, &t.BranchIndex, &t.BranchTotal, &t.PathID, &t.SiblingGroup,
			&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return out, nil
}
