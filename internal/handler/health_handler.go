// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marantz-avr/internal/config"
	"marantz-avr/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	avr       AVRController
	config    *config.Config
	logger    *utils.ServiceLogger
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(controller AVRController, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		avr:       controller,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports the bridge and receiver connection
// @Summary Health check
// @Description Service health including the receiver connection
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Receiver connected"
// @Success 200 {object} HealthResponse "Bridge running, receiver unreachable (degraded)"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.avr.Status()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	receiver := CheckResult{
		Status:  "healthy",
		Message: "Receiver connected",
		Data: map[string]interface{}{
			"address":     status.Address,
			"session_id":  status.SessionID,
			"family":      status.Family,
			"connections": status.Connections,
		},
	}
	if !status.Connected {
		health.Status = "degraded"
		receiver.Status = "unhealthy"
		receiver.Message = "Receiver not connected"
		if status.LastError != "" {
			receiver.Message = status.LastError
		}
	}
	health.Checks["receiver"] = receiver

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck is ready once the receiver is connected
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Receiver connected"
// @Failure 503 {object} object{status=string,reason=string} "Receiver not connected"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.avr.Status().Connected {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "receiver not connected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for liveness probes
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
