// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	AVR       AVRConfig       `mapstructure:"avr"`
	Server    ServerConfig    `mapstructure:"server"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	App       AppConfig       `mapstructure:"app"`
}

// AVRConfig describes the receiver to control
type AVRConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Transport        string        `mapstructure:"transport"`
	SerialPort       string        `mapstructure:"serial_port"`
	BaudRate         int           `mapstructure:"baud_rate"`
	ModelFamily      string        `mapstructure:"model_family"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// MQTTConfig represents the MQTT bridge configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BrokerURL   string `mapstructure:"broker_url"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
}

// ReconnectConfig controls how the daemon re-establishes a lost session
type ReconnectConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load reads configuration from an optional YAML file, AVR_* environment
// variables and command line flags, in increasing precedence. flags may be
// nil; its flag names are the dotted config keys (e.g. "avr.host").
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variable support
	v.SetEnvPrefix("AVR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// AVR defaults
	v.SetDefault("avr.host", "")
	v.SetDefault("avr.port", 23)
	v.SetDefault("avr.transport", "tcp")
	v.SetDefault("avr.serial_port", "")
	v.SetDefault("avr.baud_rate", 9600)
	v.SetDefault("avr.model_family", "marantz")
	v.SetDefault("avr.connect_timeout", "5s")
	v.SetDefault("avr.command_timeout", "1s")
	v.SetDefault("avr.subscriber_buffer", 256)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "avr")
	v.SetDefault("mqtt.client_id", "")

	// Reconnect defaults
	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "marantz-avr")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	switch config.AVR.Transport {
	case "tcp":
		if config.AVR.Host == "" {
			return fmt.Errorf("avr.host is required for tcp transport")
		}
		if config.AVR.Port <= 0 || config.AVR.Port > 65535 {
			return fmt.Errorf("avr.port is invalid: %d", config.AVR.Port)
		}
	case "serial":
		if config.AVR.SerialPort == "" {
			return fmt.Errorf("avr.serial_port is required for serial transport")
		}
	default:
		return fmt.Errorf("avr.transport must be tcp or serial, got %q", config.AVR.Transport)
	}

	if config.AVR.CommandTimeout <= 0 {
		return fmt.Errorf("avr.command_timeout must be positive")
	}

	if config.Server.Enabled && config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if config.MQTT.Enabled && config.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}

	if config.Reconnect.Enabled && config.Reconnect.MaxDelay < config.Reconnect.Delay {
		return fmt.Errorf("reconnect.max_delay must not be shorter than reconnect.delay")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetAVRAddr renders the configured receiver address for logs
func (c *Config) GetAVRAddr() string {
	if c.AVR.Transport == "serial" {
		return c.AVR.SerialPort
	}
	return fmt.Sprintf("%s:%d", c.AVR.Host, c.AVR.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
