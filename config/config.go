package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete console configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telnet    TelnetConfig    `yaml:"telnet"`
	Capture   CaptureConfig   `yaml:"capture"`
	Params    ParamsConfig    `yaml:"params"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains general device identity settings
type ServerConfig struct {
	Name string `yaml:"name"`
}

// TelnetConfig contains telnet console settings
type TelnetConfig struct {
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	WelcomeMessage string `yaml:"welcome_message"`
}

// CaptureConfig sizes the capture engine
type CaptureConfig struct {
	BufferBytes  int `yaml:"buffer_bytes"`
	MaxChannels  int `yaml:"max_channels"`
	TickPeriodMS int `yaml:"tick_period_ms"`
}

// ParamsConfig locates the device description and the NVM store
type ParamsConfig struct {
	DescriptionFile string `yaml:"description_file"`
	NVMPath         string `yaml:"nvm_path"`
}

// RecorderConfig contains capture archive settings
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"`
}

// TelemetryConfig contains capture MQTT publishing settings
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Port    int    `yaml:"port"`
	Topic   string `yaml:"topic"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	Console       bool   `yaml:"console"`
}

// Load loads configuration from a YAML file and applies defaults
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Telnet.Port == 0 {
		c.Telnet.Port = 2323
	}
	if c.Telnet.MaxConnections == 0 {
		c.Telnet.MaxConnections = 16
	}
	if c.Capture.BufferBytes == 0 {
		c.Capture.BufferBytes = 32 * 1024
	}
	if c.Capture.MaxChannels == 0 {
		c.Capture.MaxChannels = 8
	}
	if c.Capture.TickPeriodMS == 0 {
		c.Capture.TickPeriodMS = 10
	}
	if c.Recorder.Keep == 0 {
		c.Recorder.Keep = 50
	}
	if c.Telemetry.Port == 0 {
		c.Telemetry.Port = 1883
	}
	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = "diagconsole/captures"
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 14
	}
}

func (c *Config) validate() error {
	if c.Params.DescriptionFile == "" {
		return fmt.Errorf("config: params.description_file is required")
	}
	if c.Capture.BufferBytes < 4 {
		return fmt.Errorf("config: capture.buffer_bytes must hold at least one sample")
	}
	if c.Capture.MaxChannels < 1 {
		return fmt.Errorf("config: capture.max_channels must be >= 1")
	}
	if c.Capture.TickPeriodMS < 1 {
		return fmt.Errorf("config: capture.tick_period_ms must be >= 1")
	}
	if c.Recorder.Enabled && c.Recorder.Path == "" {
		return fmt.Errorf("config: recorder.path is required when the recorder is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Broker == "" {
		return fmt.Errorf("config: telemetry.broker is required when telemetry is enabled")
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Device: %s\n", c.Server.Name)
	fmt.Printf("Telnet: port %d (max %d connections)\n", c.Telnet.Port, c.Telnet.MaxConnections)
	fmt.Printf("Capture: %d byte buffer, %d channels max, %d ms tick\n",
		c.Capture.BufferBytes, c.Capture.MaxChannels, c.Capture.TickPeriodMS)
	fmt.Printf("Params: %s\n", c.Params.DescriptionFile)
	if c.Params.NVMPath != "" {
		fmt.Printf("NVM: %s\n", c.Params.NVMPath)
	}
	if c.Recorder.Enabled {
		fmt.Printf("Recorder: %s (keep %d)\n", c.Recorder.Path, c.Recorder.Keep)
	}
	if c.Telemetry.Enabled {
		fmt.Printf("Telemetry: %s:%d (topic: %s)\n", c.Telemetry.Broker, c.Telemetry.Port, c.Telemetry.Topic)
	}
}
