// Package rpcclients holds the outbound HTTP clients the Coordinator's
// phase-2 effect dispatcher uses to reach the Executor, the Resources
// service, and sibling Coordinator instances (spec.md §4.6/§6).
package rpcclients

import (
	"context"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Logger is the minimal surface rpcclients needs from *logger.Logger,
// kept narrow so this package doesn't import internal/logger directly.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// httpClient wraps http.Client with the trace-context propagation every
// outbound RPC carries, so the Executor/Resources span chains back to the
// planning pass that triggered it.
type httpClient struct {
	client *http.Client
	logger Logger
}

func newHTTPClient(client *http.Client, logger Logger) *httpClient {
	return &httpClient{client: client, logger: logger}
}

// do issues a request with ctx's OTel span context injected as headers.
func (c *httpClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return c.client.Do(req)
}
