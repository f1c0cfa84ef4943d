// Package resourcestore defines the pluggable interface wonderctl's
// deploy and pull commands use to read and write workflow definitions.
// The Resources service's actual wire format is out of this module's
// scope (see internal/rpcclients.ResourcesClient.LoadDefinition's design
// note); this package fixes the contract and an HTTP-backed
// implementation that talks to whatever Resources-store endpoint the
// operator points it at.
package resourcestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Store reads and writes raw definition documents. wonderctl never
// parses the document itself (that's the DSL tooling's job) — it moves
// bytes between the local filesystem and the Resources store.
type Store interface {
	Pull(ctx context.Context, definitionRef string, version int) ([]byte, error)
	Deploy(ctx context.Context, definitionRef string, doc []byte) (version int, err error)
}

// HTTPStore is the production implementation, grounded on
// internal/rpcclients' do-it-yourself http.Client wrapper pattern.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPStore) Pull(ctx context.Context, definitionRef string, version int) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/definitions/%s/versions/%d", s.baseURL, definitionRef, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build pull request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull %s@%d: %w", definitionRef, version, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pull %s@%d: returned %d: %s", definitionRef, version, resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

type deployResponse struct {
	Version int `json:"version"`
}

func (s *HTTPStore) Deploy(ctx context.Context, definitionRef string, doc []byte) (int, error) {
	url := fmt.Sprintf("%s/v1/definitions/%s/versions", s.baseURL, definitionRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(doc))
	if err != nil {
		return 0, fmt.Errorf("build deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deploy %s: %w", definitionRef, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("deploy %s: returned %d: %s", definitionRef, resp.StatusCode, string(body))
	}

	var out deployResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode deploy response: %w", err)
	}
	return out.Version, nil
}
