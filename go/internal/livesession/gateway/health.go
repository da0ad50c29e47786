package gateway

import (
	"net/http"

	"github.com/nats-io/nats.go"
)

// HealthStatus is the body of the /health endpoint
type HealthStatus struct {
	Healthy         bool     `json:"healthy"`
	NATSEnabled     bool     `json:"nats_enabled"`
	NATSConnected   bool     `json:"nats_connected"`
	OpenConnections int      `json:"open_connections"`
	ActiveSessions  int      `json:"active_sessions"`
	KnownSessions   int      `json:"known_sessions"`
	PendingExpiries int      `json:"pending_expiries"`
	Errors          []string `json:"errors"`
}

// HealthChecker reports whether the gateway can serve traffic
type HealthChecker struct {
	service  *Service
	natsConn *nats.Conn
}

// NewHealthChecker creates a checker. natsConn may be nil when NATS is disabled.
func NewHealthChecker(service *Service, natsConn *nats.Conn) *HealthChecker {
	return &HealthChecker{service: service, natsConn: natsConn}
}

// Check gathers the current status
func (h *HealthChecker) Check() HealthStatus {
	status := HealthStatus{
		Healthy:         true,
		OpenConnections: h.service.connectionManager.Count(),
		ActiveSessions:  h.service.members.Stats().ActiveSessions,
		KnownSessions:   h.service.registry.Len(),
		Errors:          []string{},
	}
	if h.service.expiry != nil {
		status.PendingExpiries = h.service.expiry.Pending()
	}

	if h.natsConn != nil {
		status.NATSEnabled = true
		status.NATSConnected = h.natsConn.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

// ServeHTTP responds 503 when unhealthy
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
