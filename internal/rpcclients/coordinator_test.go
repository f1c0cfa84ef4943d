package rpcclients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderhq/coordinator/internal/model"
)

func TestCoordinatorClient_StartWorkflow_ReturnsChildRunID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body startWorkflowRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "approval_flow", body.DefinitionRef)
		require.NotNil(t, body.ParentTokenID)
		assert.Equal(t, "tok-parent", *body.ParentTokenID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(startWorkflowResponse{RunID: "run-child-1"})
	}))
	defer srv.Close()

	c := NewCoordinatorClient(srv.URL, time.Second, &testLogger{t})
	parentRunID := "run-parent"
	parentTokenID := "tok-parent"
	childRunID, err := c.StartWorkflow(context.Background(), "approval_flow", map[string]interface{}{"x": 1}, &parentRunID, &parentTokenID)

	require.NoError(t, err)
	assert.Equal(t, "run-child-1", childRunID)
}

func TestCoordinatorClient_NotifyParent_PostsToSubworkflowDoneRoute(t *testing.T) {
	var gotPath string
	var gotBody notifyParentRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCoordinatorClient(srv.URL, time.Second, &testLogger{t})
	err := c.NotifyParent(context.Background(), "run-parent", "tok-parent", "run-child-1", model.RunCompleted, map[string]interface{}{"done": true}, nil)

	require.NoError(t, err)
	assert.Equal(t, "/v1/runs/run-parent/commands/subworkflow-done", gotPath)
	assert.Equal(t, "run-child-1", gotBody.ChildRunID)
	assert.Equal(t, model.RunCompleted, gotBody.Status)
}
