package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/erp/feedsync/internal/infrastructure/logger"
	"github.com/erp/feedsync/internal/infrastructure/persistence"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping() error
}

type poolStatser interface {
	Stats() (persistence.ConnectionStats, error)
}

// QueueStats exposes the feed scheduler's backlog
type QueueStats interface {
	Stats() (queued, active int)
}

// SystemHandler serves health and build information
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	db        Pinger
	queue     QueueStats
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version string, db Pinger, queue QueueStats) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		db:        db,
		queue:     queue,
		startTime: time.Now(),
	}
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	Database string `json:"database"`
	Queued   int    `json:"queued_sub_batches"`
	Active   int    `json:"active_sub_batches"`
}

// Health reports database reachability and feed queue depth.
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:   "healthy",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Database: "ok",
	}
	if h.queue != nil {
		resp.Queued, resp.Active = h.queue.Stats()
	}

	status := http.StatusOK
	if err := h.db.Ping(); err != nil {
		logger.GetGinLogger(c).Warn("health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Database = "error"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string                       `json:"name"`
	Version   string                       `json:"version"`
	GoVersion string                       `json:"go_version"`
	Uptime    string                       `json:"uptime"`
	DBPool    *persistence.ConnectionStats `json:"database_pool,omitempty"`
}

// GetSystemInfo returns version, uptime and, when available, connection pool stats.
// GET /api/v1/system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	resp := SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if ps, ok := h.db.(poolStatser); ok {
		if stats, err := ps.Stats(); err == nil {
			resp.DBPool = &stats
		}
	}
	h.Success(c, resp)
}

// RegisterRoutes implements router.RouteRegistrar
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/system/info", h.GetSystemInfo)
}
