package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/labstack/echo/v4"
)

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// health reports component health. Only an unhealthy critical component
// fails it.
func (s *Server) health(c echo.Context) error {
	h := metrics.GetHealth()
	code := http.StatusOK
	if h.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, h)
}

// ready checks whether the engine can accept traffic
func (s *Server) ready(c echo.Context) error {
	readiness := metrics.GetReadiness()
	checks := readiness.Components
	if checks == nil {
		checks = make(map[string]string)
	}
	ready := readiness.Status == "ready"
	message := readiness.Message

	// Raft cluster
	if s.cluster != nil {
		if s.cluster.IsLeader() {
			checks["raft"] = "leader"
		} else if addr := s.cluster.LeaderAddr(); addr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", addr)
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}
	}

	// Storage
	if _, err := s.store.List(); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		if message == "" {
			message = "Storage not accessible"
		}
	} else {
		checks["storage"] = "ok"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}
