package resourcestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStore_Pull_GETsAndReturnsBody(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"definition_id":"approval_flow"}`))
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, time.Second)
	doc, err := store.Pull(context.Background(), "approval_flow", 2)

	require.NoError(t, err)
	assert.Equal(t, "/v1/definitions/approval_flow/versions/2", gotPath)
	assert.JSONEq(t, `{"definition_id":"approval_flow"}`, string(doc))
}

func TestHTTPStore_Pull_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, time.Second)
	_, err := store.Pull(context.Background(), "missing", 1)
	assert.Error(t, err)
}

func TestHTTPStore_Deploy_POSTsDocAndReturnsVersion(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]int{"version": 4})
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, time.Second)
	version, err := store.Deploy(context.Background(), "approval_flow", []byte(`{"nodes":[]}`))

	require.NoError(t, err)
	assert.Equal(t, 4, version)
	assert.Equal(t, []interface{}{}, gotBody["nodes"])
}
