package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wonderhq/coordinator/internal/model"
)

// ContextRepository persists the three schema-bound context sections and
// the per-token branch tables of spec.md §3/§4.7.
type ContextRepository struct {
	db Querier
}

func NewContextRepository(db Querier) *ContextRepository {
	return &ContextRepository{db: db}
}

func (r *ContextRepository) Init(ctx context.Context, runID string, input map[string]interface{}) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO context_sections (run_id, input, state, output)
		VALUES ($1, $2, '{}', '{}')
	`, runID, inputJSON)
	if err != nil {
		return fmt.Errorf("init context for run %s: %w", runID, err)
	}
	return nil
}

func (r *ContextRepository) Load(ctx context.Context, runID string) (model.Context, error) {
	var inputJSON, stateJSON, outputJSON []byte
	err := r.db.QueryRow(ctx, `
		SELECT input, state, output FROM context_sections WHERE run_id = $1
	`, runID).Scan(&inputJSON, &stateJSON, &outputJSON)
	if err != nil {
		return model.Context{}, fmt.Errorf("load context for run %s: %w", runID, err)
	}

	c := model.Context{}
	if err := json.Unmarshal(inputJSON, &c.Input); err != nil {
		return model.Context{}, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &c.State); err != nil {
		return model.Context{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal(outputJSON, &c.Output); err != nil {
		return model.Context{}, fmt.Errorf("unmarshal output: %w", err)
	}

	branches, err := r.loadBranchTables(ctx, runID)
	if err != nil {
		return model.Context{}, err
	}
	c.BranchTables = branches
	return c, nil
}

// SetSection overwrites an entire context section (input/state/output) in
// one round trip; planning always computes the full next section value
// rather than asking the store to apply a partial patch.
func (r *ContextRepository) SetSection(ctx context.Context, runID string, section string, value map[string]interface{}) error {
	col, err := sectionColumn(section)
	if err != nil {
		return err
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", section, err)
	}
	_, err = r.db.Exec(ctx, fmt.Sprintf(`UPDATE context_sections SET %s = $2 WHERE run_id = $1`, col), runID, valueJSON)
	if err != nil {
		return fmt.Errorf("set context section %s for run %s: %w", section, runID, err)
	}
	return nil
}

func sectionColumn(section string) (string, error) {
	switch section {
	case "input":
		return "input", nil
	case "state":
		return "state", nil
	case "output":
		return "output", nil
	default:
		return "", fmt.Errorf("unknown context section %q", section)
	}
}

func (r *ContextRepository) InitBranchTable(ctx context.Context, runID, tokenID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO branch_tables (run_id, token_id, output)
		VALUES ($1, $2, '{}')
		ON CONFLICT (run_id, token_id) DO NOTHING
	`, runID, tokenID)
	if err != nil {
		return fmt.Errorf("init branch table for token %s: %w", tokenID, err)
	}
	return nil
}

func (r *ContextRepository) SetBranchOutput(ctx context.Context, runID, tokenID string, output map[string]interface{}) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal branch output: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE branch_tables SET output = $3 WHERE run_id = $1 AND token_id = $2
	`, runID, tokenID, outputJSON)
	if err != nil {
		return fmt.Errorf("set branch output for token %s: %w", tokenID, err)
	}
	return nil
}

func (r *ContextRepository) DropBranchTables(ctx context.Context, runID string, tokenIDs []string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM branch_tables WHERE run_id = $1 AND token_id = ANY($2)
	`, runID, tokenIDs)
	if err != nil {
		return fmt.Errorf("drop branch tables: %w", err)
	}
	return nil
}

// GetBranchOutputs returns the branch outputs for tokenIDs in the same
// order, for internal/apply to recompute a fan-in merge deterministically
// (mirroring the order planning used when it emitted MERGE_BRANCHES).
func (r *ContextRepository) GetBranchOutputs(ctx context.Context, runID string, tokenIDs []string) ([]map[string]interface{}, error) {
	rows, err := r.db.Query(ctx, `SELECT token_id, output FROM branch_tables WHERE run_id = $1 AND token_id = ANY($2)`, runID, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("get branch outputs: %w", err)
	}
	defer rows.Close()

	byToken := make(map[string]map[string]interface{})
	for rows.Next() {
		var tokenID string
		var outputJSON []byte
		if err := rows.Scan(&tokenID, &outputJSON); err != nil {
			return nil, fmt.Errorf("scan branch output: %w", err)
		}
		var output map[string]interface{}
		if err := json.Unmarshal(outputJSON, &output); err != nil {
			return nil, fmt.Errorf("unmarshal branch output: %w", err)
		}
		byToken[tokenID] = output
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch outputs: %w", err)
	}

	out := make([]map[string]interface{}, len(tokenIDs))
	for i, id := range tokenIDs {
		out[i] = byToken[id]
	}
	return out, nil
}

func (r *ContextRepository) loadBranchTables(ctx context.Context, runID string) (map[string]map[string]interface{}, error) {
	rows, err := r.db.Query(ctx, `SELECT token_id, output FROM branch_tables WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("load branch tables for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := make(map[string]map[string]interface{})
	for rows.Next() {
		var tokenID string
		var outputJSON []byte
		if err := rows.Scan(&tokenID, &outputJSON); err != nil {
			return nil, fmt.Errorf("scan branch table: %w", err)
		}
		var output map[string]interface{}
		if err := json.Unmarshal(outputJSON, &output); err != nil {
			return nil, fmt.Errorf("unmarshal branch output: %w", err)
		}
		out[tokenID] = output
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch tables: %w", err)
	}
	return out, nil
}
