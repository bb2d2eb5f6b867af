// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marantz-avr/internal/config"
	"marantz-avr/internal/handler"
	"marantz-avr/internal/middleware"
	"marantz-avr/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config        *config.Config
	logger        *zap.Logger
	avrHandler    *handler.AVRHandler
	healthHandler *handler.HealthHandler
	wsHandler     *handler.WebSocketHandler
}

// NewRouter creates a new router instance. The websocket handler is owned
// by the caller, which also runs its broadcast loop.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	avrHandler *handler.AVRHandler,
	healthHandler *handler.HealthHandler,
	wsHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:        config,
		logger:        logger,
		avrHandler:    avrHandler,
		healthHandler: healthHandler,
		wsHandler:     wsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.TestMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	r.healthHandler.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	r.avrHandler.RegisterRoutes(apiV1)

	if r.wsHandler != nil {
		ws := router.Group("/ws")
		r.wsHandler.RegisterRoutes(ws)
	}

	r.logger.Debug("All routes configured successfully")
}
