package node

import (
	"fmt"

	"github.com/teslashibe/go-facenode/pkg/bus"
	"github.com/teslashibe/go-facenode/pkg/frame"
	"github.com/teslashibe/go-facenode/pkg/selector"
)

// Config holds the node parameters. They are read once at start-up.
type Config struct {
	// Namespace prefixes every topic.
	// Default: "/face_recognition"
	Namespace string `yaml:"namespace" json:"namespace"`

	// RotationCycles is the number of counter-clockwise quarter turns
	// applied to every incoming frame.
	RotationCycles int `yaml:"rotation_cycles" json:"rotation_cycles"`

	RGBCamera   bool `yaml:"rgb_camera" json:"rgb_camera"`
	DepthCamera bool `yaml:"depth_camera" json:"depth_camera"`
	IRCamera    bool `yaml:"ir_camera" json:"ir_camera"`

	RGBImageEncoding   string `yaml:"rgb_image_encoding" json:"rgb_image_encoding"`
	IRImageEncoding    string `yaml:"ir_image_encoding" json:"ir_image_encoding"`
	DepthImageEncoding string `yaml:"depth_image_encoding" json:"depth_image_encoding"`

	// MultipleDetection publishes every face instead of the closest one.
	MultipleDetection bool `yaml:"multiple_detection" json:"multiple_detection"`
	// ShowDetection publishes the color frame with the emitted faces outlined.
	ShowDetection bool `yaml:"show_detection" json:"show_detection"`
	// InformDetection publishes whether anything was detected, every cycle.
	InformDetection bool `yaml:"inform_detection" json:"inform_detection"`

	// MinArea drops detections smaller than this many pixels.
	MinArea int `yaml:"min_area" json:"min_area"`
}

// DefaultConfig returns the stock node parameters.
func DefaultConfig() Config {
	return Config{
		Namespace:          bus.DefaultPrefix,
		RotationCycles:     3,
		RGBCamera:          true,
		RGBImageEncoding:   frame.BGR8,
		IRImageEncoding:    frame.Mono16,
		DepthImageEncoding: frame.Mono16,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MinArea < 0 {
		return fmt.Errorf("min_area must be >= 0, got %d", c.MinArea)
	}
	if !c.RGBCamera && !c.IRCamera {
		return fmt.Errorf("one of rgb_camera or ir_camera is required")
	}
	if c.RGBCamera && !frame.ValidEncoding(c.RGBImageEncoding) {
		return fmt.Errorf("unsupported rgb_image_encoding %q", c.RGBImageEncoding)
	}
	if !c.RGBCamera && !frame.ValidEncoding(c.IRImageEncoding) {
		return fmt.Errorf("unsupported ir_image_encoding %q", c.IRImageEncoding)
	}
	if c.DepthCamera && !frame.ValidEncoding(c.DepthImageEncoding) {
		return fmt.Errorf("unsupported depth_image_encoding %q", c.DepthImageEncoding)
	}
	return nil
}

// ColorEncoding is the encoding of the stream faces are detected on.
// The rgb camera takes precedence when both are enabled.
func (c *Config) ColorEncoding() string {
	if c.RGBCamera {
		return c.RGBImageEncoding
	}
	return c.IRImageEncoding
}

// ColorTopic is the name (without namespace) of the detection stream.
func (c *Config) ColorTopic() string {
	if c.RGBCamera {
		return bus.TopicColorImage
	}
	return bus.TopicIRImage
}

// Selector returns the frame selector settings.
func (c *Config) Selector() selector.Config {
	return selector.Config{
		MultipleDetection: c.MultipleDetection,
		DepthCamera:       c.DepthCamera,
		MinArea:           c.MinArea,
	}
}
