// internal/handler/avr_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marantz-avr/internal/service"
	"marantz-avr/internal/utils"
	"marantz-avr/pkg/avr"
)

// AVRController is the service surface the HTTP and websocket handlers use
type AVRController interface {
	Execute(ctx context.Context, cmd avr.Command, timeout time.Duration) (avr.Event, error)
	Refresh(ctx context.Context) error
	State() (avr.Snapshot, error)
	Status() service.ServiceStatus
}

// AVRHandler handles receiver state and command requests
type AVRHandler struct {
	avr    AVRController
	logger *utils.ServiceLogger
}

// CommandRequest is the body of POST /api/v1/commands
type CommandRequest struct {
	// Kind is a status kind (power, mute, volume, input, surround_mode) or "query"
	Kind string `json:"kind" binding:"required"`
	// Value is the target value; empty queries the kind
	Value     string `json:"value"`
	TimeoutMS int    `json:"timeout_ms" binding:"omitempty,min=1,max=60000"`
}

// CommandResponse is the data of a successful command
type CommandResponse struct {
	Command string    `json:"command"`
	Reply   avr.Event `json:"reply"`
	Value   string    `json:"value"`
}

// StateResponse is the data of GET /api/v1/state
type StateResponse struct {
	Connection service.ServiceStatus `json:"connection"`
	State      avr.Snapshot          `json:"state"`
}

// NewAVRHandler creates a new AVR handler
func NewAVRHandler(controller AVRController, logger *zap.Logger) *AVRHandler {
	return &AVRHandler{
		avr:    controller,
		logger: utils.NewServiceLogger(logger, "avr-handler"),
	}
}

// RegisterRoutes registers AVR routes
func (h *AVRHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/state", h.GetState)
	router.POST("/commands", h.ExecuteCommand)
	router.POST("/refresh", h.Refresh)
}

// GetState returns the current device state
// @Summary Device state
// @Description Last reported value per status kind
// @Tags AVR
// @Produce json
// @Success 200 {object} utils.APIResponse{data=StateResponse}
// @Failure 503 {object} utils.APIResponse "Receiver not connected"
// @Router /api/v1/state [get]
func (h *AVRHandler) GetState(c *gin.Context) {
	snapshot, err := h.avr.State()
	if err != nil {
		h.respondError(c, "Receiver state unavailable", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Receiver state", StateResponse{
		Connection: h.avr.Status(),
		State:      snapshot,
	})
}

// ExecuteCommand sends one command and waits for its reply
// @Summary Execute command
// @Tags AVR
// @Accept json
// @Produce json
// @Param request body CommandRequest true "Command"
// @Success 200 {object} utils.APIResponse{data=CommandResponse}
// @Failure 400 {object} utils.APIResponse "Invalid or unsupported command"
// @Failure 503 {object} utils.APIResponse "Receiver not connected"
// @Failure 504 {object} utils.APIResponse "No reply from receiver"
// @Router /api/v1/commands [post]
func (h *AVRHandler) ExecuteCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cmd, err := avr.ParseCommand(req.Kind, req.Value)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid command", err)
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	event, err := h.avr.Execute(c.Request.Context(), cmd, timeout)
	if err != nil {
		h.logger.Warn("Command failed",
			zap.String("command", cmd.String()),
			zap.Error(err),
		)
		h.respondError(c, "Command failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command executed", CommandResponse{
		Command: cmd.String(),
		Reply:   event,
		Value:   avr.FormatValue(event.Value),
	})
}

// Refresh queries every status from the receiver
// @Summary Refresh state
// @Tags AVR
// @Produce json
// @Success 200 {object} utils.APIResponse{data=StateResponse}
// @Failure 503 {object} utils.APIResponse "Receiver not connected"
// @Router /api/v1/refresh [post]
func (h *AVRHandler) Refresh(c *gin.Context) {
	if err := h.avr.Refresh(c.Request.Context()); err != nil {
		h.respondError(c, "Refresh failed", err)
		return
	}

	snapshot, err := h.avr.State()
	if err != nil {
		h.respondError(c, "Receiver state unavailable", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Receiver state refreshed", StateResponse{
		Connection: h.avr.Status(),
		State:      snapshot,
	})
}

func (h *AVRHandler) respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, StatusForError(err), message, err)
}

// StatusForError maps session errors to HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, avr.ErrUnsupportedCommand):
		return http.StatusBadRequest
	case errors.Is(err, avr.ErrCommandTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case service.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
