// Package config loads facenode configuration from a YAML file and
// FACENODE_* environment variables. Flag parsing is done in cmd/*/main.go;
// flags are applied last and override both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/teslashibe/go-facenode/pkg/detection"
	"github.com/teslashibe/go-facenode/pkg/node"
	"gopkg.in/yaml.v3"
)

// Default server configuration.
const (
	DefaultAddr      = ":8090"
	DefaultQueueSize = 64
)

// File is the full facenode configuration.
type File struct {
	Node     node.Config      `yaml:"node"`
	Detector detection.Config `yaml:"detector"`
	Server   Server           `yaml:"server"`
	Log      Log              `yaml:"log"`
}

// Server configures the HTTP and bus endpoint.
type Server struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string `yaml:"addr"`
	// QueueSize bounds each remote subscriber's send queue.
	QueueSize int `yaml:"queue_size"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// Debug enables verbose per-detection logging.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when nothing else is set.
func Default() File {
	return File{
		Node:     node.DefaultConfig(),
		Detector: detection.DefaultConfig(),
		Server: Server{
			Addr:      DefaultAddr,
			QueueSize: DefaultQueueSize,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults. Keys missing from the
// file keep their default values; unknown keys are an error. An empty path
// returns the defaults.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cfg.Parse(data); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the current values.
func (f *File) Parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section.
func (f *File) Validate() error {
	if err := f.Node.Validate(); err != nil {
		return &Error{Field: "node", Message: err.Error()}
	}
	if err := f.Detector.Validate(); err != nil {
		return &Error{Field: "detector", Message: err.Error()}
	}
	if f.Server.Addr == "" {
		return &Error{Field: "server.addr", Message: "listen address is required"}
	}
	if f.Server.QueueSize <= 0 {
		return &Error{Field: "server.queue_size", Message: fmt.Sprintf("must be > 0, got %d", f.Server.QueueSize)}
	}
	switch f.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &Error{Field: "log.level", Message: fmt.Sprintf("unknown level %q", f.Log.Level)}
	}
	return nil
}

// Error represents a configuration validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
