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

func TestResourcesClient_UpdateStatus_PUTsRunStatus(t *testing.T) {
	var gotPath string
	var gotBody updateStatusRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewResourcesClient(srv.URL, time.Second, &testLogger{t})
	err := c.UpdateStatus(context.Background(), "run-1", model.RunCompleted, map[string]interface{}{"ok": true}, nil)

	require.NoError(t, err)
	assert.Equal(t, "/v1/runs/run-1/status", gotPath)
	assert.Equal(t, model.RunCompleted, gotBody.Status)
}

func TestResourcesClient_UpdateStatus_CarriesErrorInfo(t *testing.T) {
	var gotBody updateStatusRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewResourcesClient(srv.URL, time.Second, &testLogger{t})
	errInfo := &model.ErrorInfo{Code: "no_transition_matched", Message: "no route"}
	err := c.UpdateStatus(context.Background(), "run-1", model.RunFailed, nil, errInfo)

	require.NoError(t, err)
	require.NotNil(t, gotBody.Error)
	assert.Equal(t, "no_transition_matched", gotBody.Error.Code)
}

func TestResourcesClient_LoadDefinition_GETsAndDecodesDefinition(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.WorkflowDefinition{
			DefinitionID:  "approval_flow",
			Version:       3,
			InitialNodeID: "A",
		})
	}))
	defer srv.Close()

	c := NewResourcesClient(srv.URL, time.Second, &testLogger{t})
	def, err := c.LoadDefinition(context.Background(), "approval_flow", 3)

	require.NoError(t, err)
	assert.Equal(t, "/v1/definitions/approval_flow/versions/3", gotPath)
	assert.Equal(t, "approval_flow", def.DefinitionID)
	assert.Equal(t, "A", def.InitialNodeID)
}

func TestResourcesClient_LoadDefinition_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewResourcesClient(srv.URL, time.Second, &testLogger{t})
	_, err := c.LoadDefinition(context.Background(), "missing", 1)
	require.Error(t, err)
}
