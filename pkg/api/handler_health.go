package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MLidstrom/Castellan-sub013/pkg/notify"
	"github.com/MLidstrom/Castellan-sub013/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Channels []notify.ChannelStatus `json:"channels,omitempty"`
}

// healthHandler handles GET /health.
// Liveness only: the process is up and serving. Notification channels are
// reported for operator visibility but never flip the HTTP status; a dead
// webhook is an external failure and must not get the service restarted.
func (s *Server) healthHandler(c *gin.Context) {
	resp := HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.GitCommit,
	}

	if s.components.Notifier != nil {
		resp.Channels = s.components.Notifier.Channels()
		for _, ch := range resp.Channels {
			if ch.Enabled && !ch.Health.Healthy {
				resp.Status = healthStatusDegraded
				break
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// readyHandler handles GET /ready.
// Ready means the vector store answers and the collection exists. Creating
// a collection that already exists reads as success, so the same call
// doubles as the reachability probe.
func (s *Server) readyHandler(c *gin.Context) {
	if s.components.Store == nil {
		c.JSON(http.StatusOK, ReadyResponse{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	if err := s.components.Store.EnsureCollection(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{
			Status: "unavailable",
			Error:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ReadyResponse{Status: "ready"})
}
