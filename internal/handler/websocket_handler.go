// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marantz-avr/internal/service"
	"marantz-avr/internal/utils"
	"marantz-avr/pkg/avr"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams device events to browsers and accepts commands
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	connections    *ConnectionManager
	avr            AVRController
	bus            *service.EventBus
	subscriptionID string
	events         <-chan service.BusEvent
	logger         *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. It subscribes to the
// bus immediately; call Run to start forwarding.
func NewWebSocketHandler(controller AVRController, bus *service.EventBus, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}

	id, events := bus.Subscribe()
	return &WebSocketHandler{
		upgrader:       upgrader,
		connections:    NewConnectionManager(),
		avr:            controller,
		bus:            bus,
		subscriptionID: id,
		events:         events,
		logger:         utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/stats", h.HandleStats)
}

// Run forwards bus events to clients until ctx is cancelled or the bus
// closes, then disconnects every client
func (h *WebSocketHandler) Run(ctx context.Context) {
	defer h.connections.CloseAll()
	defer h.bus.Unsubscribe(h.subscriptionID)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-h.events:
			if !ok {
				return
			}
			h.broadcast(event)
		}
	}
}

// HandleEventConnection upgrades to a websocket streaming device events
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), conn, c.Request.UserAgent(), c.Request.RemoteAddr)
	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendInitialState(client)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Event WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "invalid message: "+err.Error())
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe", "unsubscribe":
		topic := stringField(message.Data, "topic")
		switch topic {
		case service.EventTypeState, service.EventTypeRaw, service.EventTypeConnection:
		default:
			h.sendError(client, message.RequestID, "unknown topic: "+topic)
			return
		}
		if message.Type == "subscribe" {
			client.Subscribe(topic)
		} else {
			client.Unsubscribe(topic)
		}
		h.sendMessage(client, &WebSocketMessage{
			Type:      message.Type + "d",
			Data:      map[string]interface{}{"topic": topic},
			RequestID: message.RequestID,
			Timestamp: time.Now(),
		})

	case "command":
		cmd, err := avr.ParseCommand(stringField(message.Data, "kind"), stringField(message.Data, "value"))
		if err != nil {
			h.sendError(client, message.RequestID, err.Error())
			return
		}
		go h.executeCommand(client, message.RequestID, cmd)

	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			RequestID: message.RequestID,
			Timestamp: time.Now(),
		})

	default:
		h.sendError(client, message.RequestID, "unknown message type: "+message.Type)
	}
}

// executeCommand runs a command for a client and reports the outcome
func (h *WebSocketHandler) executeCommand(client *Client, requestID string, cmd avr.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event, err := h.avr.Execute(ctx, cmd, 0)

	data := map[string]interface{}{
		"command": cmd.String(),
		"success": err == nil,
	}
	if err != nil {
		data["error"] = err.Error()
		data["status"] = StatusForError(err)
	} else {
		data["reply"] = event
		data["value"] = avr.FormatValue(event.Value)
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "command_response",
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

// sendInitialState sends the connection status and last known state
func (h *WebSocketHandler) sendInitialState(client *Client) {
	data := map[string]interface{}{
		"connection": h.avr.Status(),
	}
	if snapshot, err := h.avr.State(); err == nil {
		data["state"] = snapshot
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_state",
		Data:      data,
		Timestamp: time.Now(),
	})
}

// broadcast fans one bus event out to subscribed clients
func (h *WebSocketHandler) broadcast(event service.BusEvent) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      event.Type,
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, id := range h.connections.Broadcast(event.Type, messageBytes) {
		h.logger.Warn("Client send channel full during broadcast",
			zap.String("client_id", id),
		)
	}
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

// HandleStats reports connected clients and their topics
// @Summary WebSocket statistics
// @Tags websocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /ws/stats [get]
func (h *WebSocketHandler) HandleStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket statistics", h.GetConnectionStats())
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

func stringField(data interface{}, key string) string {
	if m, ok := data.(map[string]interface{}); ok {
		if s, ok := m[key].(string); ok {
			return s
		}
	}
	return ""
}
