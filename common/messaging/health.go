package messaging

import (
	"context"
	"errors"
	"time"
)

// HealthChecker can check the health of a messaging connection.
type HealthChecker interface {
	// CheckHealth returns nil if the connection is healthy, error otherwise.
	CheckHealth(ctx context.Context) error
}

// Connector reports broker connectivity.
type Connector interface {
	IsConnected() bool
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Healthy reports whether the status carries no error.
func (s HealthStatus) Healthy() bool {
	return s.Connected && s.Error == ""
}

// CheckClientHealth reports the connection state of c. When c also implements
// HealthChecker its round trip is timed and any failure recorded.
func CheckClientHealth(ctx context.Context, c Connector) HealthStatus {
	status := HealthStatus{}

	if c == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = c.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	hc, ok := c.(HealthChecker)
	if !ok {
		return status
	}

	start := time.Now()
	err := hc.CheckHealth(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = "health check failed: " + err.Error()
	}
	return status
}

// ErrNotConnected is returned by health checks on a closed connection.
var ErrNotConnected = errors.New("not connected to message broker")
