package store

import (
	"context"
	"fmt"
)

// IterationRepository tracks loop-back visit counts per spec.md §9
// ("Cyclic graphs"): a transition with a Loop clause increments a counter
// keyed by loop_key, and planning rejects any further loop-back once
// MaxIterations is reached.
type IterationRepository struct {
	db Querier
}

func NewIterationRepository(db Querier) *IterationRepository {
	return &IterationRepository{db: db}
}

func (r *IterationRepository) Increment(ctx context.Context, runID, loopKey string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		INSERT INTO iteration_counts (run_id, loop_key, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (run_id, loop_key) DO UPDATE SET count = iteration_counts.count + 1
		RETURNING count
	`, runID, loopKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment iteration count for %s: %w", loopKey, err)
	}
	return count, nil
}

func (r *IterationRepository) ListByRun(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT loop_key, count FROM iteration_counts WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("list iteration counts for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan iteration count: %w", err)
		}
		out[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iteration counts: %w", err)
	}
	return out, nil
}
