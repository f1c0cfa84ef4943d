package rpcclients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wonderhq/coordinator/internal/model"
)

// CoordinatorClient is used two ways: a Coordinator handling a
// StartSubworkflow effect calls it to start the child run on whichever
// Coordinator instance owns that run_id's shard, and a child run's
// Coordinator calls it back to notify the parent run when the child
// finishes (spec.md §4.6, "subworkflow" effects).
type CoordinatorClient struct {
	baseURL string
	http    *httpClient
	logger  Logger
}

func NewCoordinatorClient(baseURL string, timeout time.Duration, logger Logger) *CoordinatorClient {
	return &CoordinatorClient{
		baseURL: baseURL,
		http:    newHTTPClient(&http.Client{Timeout: timeout}, logger),
		logger:  logger,
	}
}

type startWorkflowRequest struct {
	DefinitionRef string                 `json:"definition_ref"`
	Input         map[string]interface{} `json:"input"`
	ParentRunID   *string                `json:"parent_run_id,omitempty"`
	ParentTokenID *string                `json:"parent_token_id,omitempty"`
}

type startWorkflowResponse struct {
	RunID string `json:"run_id"`
}

// StartWorkflow begins a run. parentTokenID is non-nil when this call
// originates from a START_SUBWORKFLOW effect, so the child's Resources
// record carries its lineage back to the parent token.
func (c *CoordinatorClient) StartWorkflow(ctx context.Context, definitionRef string, input map[string]interface{}, parentRunID, parentTokenID *string) (string, error) {
	body, err := json.Marshal(startWorkflowRequest{
		DefinitionRef: definitionRef, Input: input, ParentRunID: parentRunID, ParentTokenID: parentTokenID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal start workflow request: %w", err)
	}

	headers := map[string]string{}
	if parentTokenID != nil {
		headers["Idempotency-Key"] = "start-subworkflow:" + *parentTokenID
	}

	url := fmt.Sprintf("%s/v1/workflows", c.baseURL)
	resp, err := c.http.do(ctx, http.MethodPost, url, bytes.NewReader(body), headers)
	if err != nil {
		return "", fmt.Errorf("start workflow %s: %w", definitionRef, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("start workflow %s: returned %d: %s", definitionRef, resp.StatusCode, string(respBody))
	}

	var out startWorkflowResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start workflow response: %w", err)
	}
	return out.RunID, nil
}

type notifyParentRequest struct {
	ParentTokenID string                  `json:"parent_token_id"`
	ChildRunID    string                  `json:"child_run_id"`
	Status        model.RunStatus         `json:"status"`
	Output        map[string]interface{}  `json:"output,omitempty"`
	Error         *model.ErrorInfo        `json:"error,omitempty"`
}

// NotifyParent delivers a SUBWORKFLOW_DONE command to parentRunID's
// Coordinator once the child run reaches a terminal status.
func (c *CoordinatorClient) NotifyParent(ctx context.Context, parentRunID, parentTokenID, childRunID string, status model.RunStatus, output map[string]interface{}, errInfo *model.ErrorInfo) error {
	body, err := json.Marshal(notifyParentRequest{
		ParentTokenID: parentTokenID, ChildRunID: childRunID, Status: status, Output: output, Error: errInfo,
	})
	if err != nil {
		return fmt.Errorf("marshal notify parent request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/runs/%s/commands/subworkflow-done", c.baseURL, parentRunID)
	resp, err := c.http.do(ctx, http.MethodPost, url, bytes.NewReader(body), map[string]string{
		"Idempotency-Key": "subworkflow-done:" + childRunID,
	})
	if err != nil {
		return fmt.Errorf("notify parent run %s: %w", parentRunID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify parent run %s: returned %d: %s", parentRunID, resp.StatusCode, string(respBody))
	}
	return nil
}
