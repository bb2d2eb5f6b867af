// cmd/avrd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"marantz-avr/internal/config"
	"marantz-avr/internal/handler"
	"marantz-avr/internal/mqtt"
	"marantz-avr/internal/routes"
	"marantz-avr/internal/service"
	"marantz-avr/internal/utils"
)

// Application represents the bridge daemon
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	bus        *service.EventBus
	avrService *service.AVRService
	wsHandler  *handler.WebSocketHandler

	mqttClient *mqtt.Client
	bridge     *mqtt.Bridge
}

func main() {
	flags := pflag.NewFlagSet("avrd", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	flags.String("avr.host", "", "receiver host name or IP")
	flags.Int("avr.port", 23, "receiver TCP port")
	flags.String("avr.transport", "tcp", "transport: tcp or serial")
	flags.String("avr.serial_port", "", "serial device, e.g. /dev/ttyUSB0")
	flags.String("server.port", "8085", "HTTP listen port")
	flags.Bool("mqtt.enabled", false, "publish state to an MQTT broker")
	flags.String("mqtt.broker_url", "tcp://localhost:1883", "MQTT broker URL")
	flags.String("logging.level", "info", "log level")
	flags.Parse(os.Args[1:])

	app, err := NewApplication(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		os.Exit(1)
	}
}

// NewApplication creates a new application instance
func NewApplication(configFile string, flags *pflag.FlagSet) (*Application, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "avrd")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	app.initializeServices()
	app.initializeServer()

	if err := app.initializeMQTT(); err != nil {
		return nil, fmt.Errorf("failed to initialize mqtt: %w", err)
	}

	return app, nil
}

// initializeServices creates the event bus and the receiver service
func (app *Application) initializeServices() {
	app.bus = service.NewEventBus(app.logger)
	app.avrService = service.NewAVRService(app.config, nil, app.bus, app.logger)

	app.logger.Info("Services initialized",
		zap.String("avr_address", app.config.GetAVRAddr()),
		zap.String("model_family", app.config.AVR.ModelFamily),
	)
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	if !app.config.Server.Enabled {
		return
	}

	app.wsHandler = handler.NewWebSocketHandler(app.avrService, app.bus, app.config.Server.AllowedOrigins, app.logger)

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		handler.NewAVRHandler(app.avrService, app.logger),
		handler.NewHealthHandler(app.avrService, app.config, app.logger),
		app.wsHandler,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
}

// initializeMQTT connects to the broker when the bridge is enabled
func (app *Application) initializeMQTT() error {
	if !app.config.MQTT.Enabled {
		return nil
	}

	prefix := app.config.MQTT.TopicPrefix
	client, err := mqtt.New(&app.config.MQTT, mqtt.StatusTopic(prefix), app.logger)
	if err != nil {
		return err
	}

	app.mqttClient = client
	app.bridge = mqtt.NewBridge(client, app.avrService, app.bus, prefix, app.logger)
	return nil
}

// Start runs every component until a shutdown signal arrives
func (app *Application) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.bus.Start()

	var wg sync.WaitGroup
	var runErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.avrService.Run(ctx); err != nil {
			runErr = err
			app.logger.Error("AVR service stopped", zap.Error(err))
			stop()
		}
	}()

	if app.wsHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.wsHandler.Run(ctx)
		}()
	}

	if app.bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.bridge.Run(ctx); err != nil {
				app.logger.Error("MQTT bridge stopped", zap.Error(err))
			}
		}()
	}

	if app.server != nil {
		go func() {
			app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("HTTP server failed", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	app.logger.Info("Shutting down")

	app.shutdown()
	wg.Wait()
	app.bus.Close()

	if app.mqttClient != nil {
		app.mqttClient.Close()
	}

	app.logger.Info("Application shutdown completed")
	utils.CloseLogger(app.logger)
	return runErr
}

// shutdown stops the listeners; the background loops end with ctx
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "avrd")
	serviceLogger.LogServiceStop("shutdown signal received")

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
	}
}
