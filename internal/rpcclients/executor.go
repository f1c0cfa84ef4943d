package rpcclients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ExecutorClient dispatches a task to the Executor service (spec.md §6,
// "the Coordinator hands a token's action off to the Executor").
type ExecutorClient struct {
	baseURL string
	http    *httpClient
	logger  Logger
}

func NewExecutorClient(baseURL string, timeout time.Duration, logger Logger) *ExecutorClient {
	return &ExecutorClient{
		baseURL: baseURL,
		http:    newHTTPClient(&http.Client{Timeout: timeout}, logger),
		logger:  logger,
	}
}

type dispatchRequest struct {
	TokenID        string                 `json:"token_id"`
	NodeID         string                 `json:"node_id"`
	ActionRef      string                 `json:"action_ref"`
	Input          map[string]interface{} `json:"input"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

// Dispatch hands one token's action to the Executor. idempotencyKey is the
// token ID: redelivery of the same DISPATCH_TOKEN effect (supervisor
// rescan, retry) must not start the action twice (spec.md §7).
func (c *ExecutorClient) Dispatch(ctx context.Context, tokenID, nodeID, actionRef string, input map[string]interface{}) error {
	body, err := json.Marshal(dispatchRequest{
		TokenID: tokenID, NodeID: nodeID, ActionRef: actionRef, Input: input,
		IdempotencyKey: tokenID,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/tasks", c.baseURL)
	resp, err := c.http.do(ctx, http.MethodPost, url, bytes.NewReader(body), map[string]string{
		"Idempotency-Key": tokenID,
	})
	if err != nil {
		return fmt.Errorf("dispatch token %s: %w", tokenID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dispatch token %s: executor returned %d: %s", tokenID, resp.StatusCode, string(respBody))
	}
	return nil
}
