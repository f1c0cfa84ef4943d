package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wonderhq/coordinator/internal/model"
)

// StatusRepository persists the run-level workflow_status row.
type StatusRepository struct {
	db Querier
}

func NewStatusRepository(db Querier) *StatusRepository {
	return &StatusRepository{db: db}
}

func (r *StatusRepository) Init(ctx context.Context, runID string, parentRunID, parentTokenID *string, definitionID string, definitionVersion int, traceEnabled bool) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO workflow_status (run_id, parent_run_id, parent_token_id, definition_id, definition_version, status, trace_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, runID, parentRunID, parentTokenID, definitionID, definitionVersion, model.RunRunning, traceEnabled)
	if err != nil {
		return fmt.Errorf("init workflow status for run %s: %w", runID, err)
	}
	return nil
}

func (r *StatusRepository) Set(ctx context.Context, runID string, status model.WorkflowStatus) error {
	var outputJSON []byte
	var err error
	if status.FinalOutput != nil {
		outputJSON, err = json.Marshal(status.FinalOutput)
		if err != nil {
			return fmt.Errorf("marshal final output: %w", err)
		}
	}

	var code, message, nodeID *string
	var retriable, terminal *bool
	if status.Error != nil {
		code, message, nodeID = &status.Error.Code, &status.Error.Message, &status.Error.NodeID
		retriable, terminal = &status.Error.Retriable, &status.Error.Terminal
	}

	_, err = r.db.Exec(ctx, `
		UPDATE workflow_status
		SET status = $2, final_output = $3, error_code = $4, error_message = $5,
			error_node_id = $6, error_retriable = $7, error_terminal = $8, updated_at = now()
		WHERE run_id = $1
	`, runID, status.Status, outputJSON, code, message, nodeID, retriable, terminal)
	if err != nil {
		return fmt.Errorf("set workflow status for run %s: %w", runID, err)
	}
	return nil
}

func (r *StatusRepository) Get(ctx context.Context, runID string) (*model.WorkflowState, error) {
	var parentRunID, parentTokenID *string
	var definitionID string
	var definitionVersion int
	var status model.RunStatus
	var outputJSON []byte
	var errCode, errMessage, errNodeID *string
	var errRetriable, errTerminal *bool
	var traceEnabled bool

	err := r.db.QueryRow(ctx, `
		SELECT parent_run_id, parent_token_id, definition_id, definition_version,
			status, final_output, error_code, error_message, error_node_id,
			error_retriable, error_terminal, trace_enabled
		FROM workflow_status WHERE run_id = $1
	`, runID).Scan(&parentRunID, &parentTokenID, &definitionID, &definitionVersion,
		&status, &outputJSON, &errCode, &errMessage, &errNodeID, &errRetriable, &errTerminal, &traceEnabled)
	if err != nil {
		return nil, fmt.Errorf("get workflow status for run %s: %w", runID, err)
	}

	ws := &model.WorkflowState{
		RunID:         runID,
		ParentRunID:   parentRunID,
		ParentTokenID: parentTokenID,
		TraceEnabled:  traceEnabled,
		Status: model.WorkflowStatus{
			Status: status,
		},
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &ws.Status.FinalOutput); err != nil {
			return nil, fmt.Errorf("unmarshal final output: %w", err)
		}
	}
	if errCode != nil {
		ws.Status.Error = &model.ErrorInfo{
			Code: *errCode,
		}
		if errMessage != nil {
			ws.Status.Error.Message = *errMessage
		}
		if errNodeID != nil {
			ws.Status.Error.NodeID = *errNodeID
		}
		if errRetriable != nil {
			ws.Status.Error.Retriable = *errRetriable
		}
		if errTerminal != nil {
			ws.Status.Error.Terminal = *errTerminal
		}
	}
	return ws, nil
}

// DefinitionRef returns the (definition_id, version) a run was started
// against, so stateloader can load it through defcache.
func (r *StatusRepository) DefinitionRef(ctx context.Context, runID string) (string, int, error) {
	var id string
	var version int
	err := r.db.QueryRow(ctx, `SELECT definition_id, definition_version FROM workflow_status WHERE run_id = $1`, runID).Scan(&id, &version)
	if err != nil {
		return "", 0, fmt.Errorf("get definition ref for run %s: %w", runID, err)
	}
	return id, version, nil
}
