// Package gateway_client reads live session state from a checkpoint gateway
// over its REST endpoints. Dashboards and backend jobs use it instead of
// holding a websocket open.
package gateway_client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/mcdev12/checkpoint/go/clients"
	"github.com/mcdev12/checkpoint/go/internal/livesession/gateway"
)

const (
	SessionsEndpoint = "/api/sessions"
	HealthEndpoint   = "/health"
)

type GatewayClient struct {
	*clients.BaseClient
}

// Option configures a GatewayClient
type Option func(*GatewayClient)

// WithTimeout bounds each request, including reading the body
func WithTimeout(timeout time.Duration) Option {
	return func(c *GatewayClient) {
		c.SetTimeout(timeout)
	}
}

func NewGatewayClient(baseURL string, opts ...Option) *GatewayClient {
	client := &GatewayClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// GetSessionState returns the live state of one session. Unknown sessions come
// back idle, not as an error.
func (c *GatewayClient) GetSessionState(ctx context.Context, sessionID string) (*gateway.SessionStateResponse, error) {
	var state gateway.SessionStateResponse
	if err := c.GetJSON(ctx, SessionsEndpoint+"/"+url.PathEscape(sessionID)+"/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListSessions returns every session the gateway knows about
func (c *GatewayClient) ListSessions(ctx context.Context) ([]gateway.SessionSummary, error) {
	var sessions []gateway.SessionSummary
	if err := c.GetJSON(ctx, SessionsEndpoint, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Health returns the gateway's health report. An unhealthy gateway answers 503
// with the same body, which is decoded and returned along with the error.
func (c *GatewayClient) Health(ctx context.Context) (*gateway.HealthStatus, error) {
	var status gateway.HealthStatus
	err := c.GetJSON(ctx, HealthEndpoint, &status)

	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusServiceUnavailable {
		if decodeErr := json.Unmarshal([]byte(statusErr.Body), &status); decodeErr == nil {
			return &status, err
		}
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}
