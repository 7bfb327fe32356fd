// Package config handles henwatch configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/henwatch/config.yaml, /etc/henwatch/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "henwatch", "config.yaml"))
	}

	paths = append(paths, "/etc/henwatch/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all henwatch configuration.
type Config struct {
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Camera    CameraConfig   `yaml:"camera"`
	Detector  DetectorConfig `yaml:"detector"`
	Monitor   MonitorConfig  `yaml:"monitor"`
	Status    StatusConfig   `yaml:"status"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

// MQTTConfig defines the broker connection and Home Assistant
// discovery settings. The broker URL scheme selects TLS: mqtt:// and
// tcp:// are plaintext, mqtts:// and ssl:// enable TLS.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DeviceName      string `yaml:"device_name"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Configured reports whether enough fields are set to attempt a broker
// connection. Without MQTT, henwatch still runs detection cycles and
// serves the status endpoint, but publishes nothing.
func (c MQTTConfig) Configured() bool {
	return c.Broker != "" && c.DeviceName != ""
}

// CameraConfig defines where snapshots come from.
type CameraConfig struct {
	// Source selects the acquisition backend: "file" or "url".
	Source string `yaml:"source"`
	// File is the snapshot path for the file source.
	File string `yaml:"file"`
	// URL is the snapshot endpoint for the url source.
	URL string `yaml:"url"`
	// TimeoutSec bounds a single snapshot fetch (default 50).
	TimeoutSec int `yaml:"timeout_sec"`
}

// DetectorConfig defines the ONNX model and inference thresholds.
type DetectorConfig struct {
	// Model is the path to the YOLO ONNX export.
	Model string `yaml:"model"`
	// Library is the path to the ONNX Runtime shared library. Empty
	// uses the platform default search path.
	Library string `yaml:"library"`
	// Labels are the class names the model was trained on, in class
	// index order.
	Labels []string `yaml:"labels"`
	// InputSize is the square model input resolution (default 640).
	InputSize int `yaml:"input_size"`
	// Confidence is the minimum detection score (default 0.25).
	Confidence float32 `yaml:"confidence"`
	// IoU is the non-maximum-suppression overlap threshold (default 0.45).
	IoU float32 `yaml:"iou"`
}

// MonitorConfig defines the detection loop cadence.
type MonitorConfig struct {
	// IntervalSec is the time between detection cycles (default 900).
	IntervalSec int `yaml:"interval_sec"`
}

// StatusConfig defines the optional HTTP status endpoint.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8099
}

// Load reads configuration from a YAML file. Environment variable
// references (${VAR}) are expanded before unmarshal so secrets can be
// kept out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued fields with their documented defaults.
func (c *Config) applyDefaults() {
	if c.Camera.Source == "" {
		c.Camera.Source = "file"
	}
	if c.Camera.File == "" {
		c.Camera.File = "snapshot.jpeg"
	}
	if c.Camera.TimeoutSec <= 0 {
		c.Camera.TimeoutSec = 50
	}
	if len(c.Detector.Labels) == 0 {
		c.Detector.Labels = []string{"chicken", "egg"}
	}
	if c.Detector.InputSize <= 0 {
		c.Detector.InputSize = 640
	}
	if c.Detector.Confidence <= 0 {
		c.Detector.Confidence = 0.25
	}
	if c.Detector.IoU <= 0 {
		c.Detector.IoU = 0.45
	}
	if c.Monitor.IntervalSec <= 0 {
		c.Monitor.IntervalSec = 900
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.Status.Port <= 0 {
		c.Status.Port = 8099
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

// Validate checks for configurations that cannot work. It returns the
// first problem found with enough context to fix it.
func (c *Config) Validate() error {
	switch c.Camera.Source {
	case "file":
		if c.Camera.File == "" {
			return fmt.Errorf("camera.source is %q but camera.file is empty", c.Camera.Source)
		}
	case "url":
		if c.Camera.URL == "" {
			return fmt.Errorf("camera.source is %q but camera.url is empty", c.Camera.Source)
		}
		if !strings.HasPrefix(c.Camera.URL, "http://") && !strings.HasPrefix(c.Camera.URL, "https://") {
			return fmt.Errorf("camera.url must be an http(s) URL, got %q", c.Camera.URL)
		}
	default:
		return fmt.Errorf("camera.source must be \"file\" or \"url\", got %q", c.Camera.Source)
	}

	if c.Detector.Model == "" {
		return fmt.Errorf("detector.model is required")
	}
	if len(c.Detector.Labels) == 0 {
		return fmt.Errorf("detector.labels must name at least one class")
	}
	if c.Detector.Confidence >= 1 {
		return fmt.Errorf("detector.confidence must be below 1.0, got %v", c.Detector.Confidence)
	}
	// YOLO detection heads predict at strides 8, 16, and 32; an input
	// the strides don't divide produces a wrong-shaped output tensor.
	if c.Detector.InputSize%32 != 0 {
		return fmt.Errorf("detector.input_size must be a multiple of 32, got %d", c.Detector.InputSize)
	}

	if c.MQTT.Broker != "" && c.MQTT.DeviceName == "" {
		return fmt.Errorf("mqtt.device_name is required when mqtt.broker is set")
	}

	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}
