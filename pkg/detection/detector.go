// Package detection provides face detection backends that report face
// bounding boxes in frame pixel coordinates.
package detection

import (
	"errors"
	"fmt"
	"math"

	"github.com/teslashibe/go-facenode/pkg/frame"
)

// Supported backends
const (
	BackendYuNet = "yunet" // OpenCV FaceDetectorYN, ONNX model
	BackendPigo  = "pigo"  // Pure Go pixel intensity cascade
)

// ErrClosed is returned by Detect once the detector has been closed.
var ErrClosed = errors.New("detector closed")

// Detector is the interface for face detection backends
type Detector interface {
	// Detect finds faces in the frame. The returned rects may extend past
	// the frame bounds. Order is backend-defined but stable for a frame.
	Detect(img frame.Image) ([]frame.Rect, error)

	// Close releases resources
	Close() error
}

// Detection is a single backend hit before conversion to a rect
type Detection struct {
	X, Y, W, H float64 // Top-left corner and size in pixels
	Confidence float64
}

// Rect converts the box to integer pixel bounds.
func (d Detection) Rect() frame.Rect {
	left := int(math.Round(d.X))
	top := int(math.Round(d.Y))
	return frame.Rect{
		Top:    top,
		Bottom: top + int(math.Round(d.H)),
		Left:   left,
		Right:  left + int(math.Round(d.W)),
	}
}

// Config holds detector configuration
type Config struct {
	Backend string `yaml:"backend" json:"backend"`

	// YuNet
	ModelPath        string  `yaml:"model_path" json:"model_path"`               // Path to ONNX model
	ConfidenceThresh float64 `yaml:"confidence_thresh" json:"confidence_thresh"` // Minimum confidence (default 0.5)
	NMSThresh        float64 `yaml:"nms_thresh" json:"nms_thresh"`
	InputWidth       int     `yaml:"input_width" json:"input_width"` // Initial model input size
	InputHeight      int     `yaml:"input_height" json:"input_height"`

	// Pigo
	CascadePath   string  `yaml:"cascade_path" json:"cascade_path"`
	MinSize       int     `yaml:"min_size" json:"min_size"` // Minimum face size (pixels)
	MaxSize       int     `yaml:"max_size" json:"max_size"` // Maximum face size (pixels)
	ShiftFactor   float64 `yaml:"shift_factor" json:"shift_factor"`
	ScaleFactor   float64 `yaml:"scale_factor" json:"scale_factor"`
	IoUThreshold  float64 `yaml:"iou_threshold" json:"iou_threshold"`   // Clustering overlap
	QualityThresh float32 `yaml:"quality_thresh" json:"quality_thresh"` // Minimum cascade score
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Backend:          BackendYuNet,
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
		CascadePath:      "models/facefinder",
		MinSize:          20,
		MaxSize:          1000,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		IoUThreshold:     0.2,
		QualityThresh:    5.0,
	}
}

// Validate checks that the configuration is usable for its backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendYuNet:
		if c.ModelPath == "" {
			return fmt.Errorf("model path is required for %s", c.Backend)
		}
		if c.ConfidenceThresh < 0 || c.ConfidenceThresh > 1 {
			return fmt.Errorf("confidence threshold must be in [0, 1], got %v", c.ConfidenceThresh)
		}
		if c.InputWidth <= 0 || c.InputHeight <= 0 {
			return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
		}
	case BackendPigo:
		if c.CascadePath == "" {
			return fmt.Errorf("cascade path is required for %s", c.Backend)
		}
		if c.MinSize <= 0 || c.MaxSize < c.MinSize {
			return fmt.Errorf("invalid face size range [%d, %d]", c.MinSize, c.MaxSize)
		}
		if c.ScaleFactor <= 1 {
			return fmt.Errorf("scale factor must be > 1, got %v", c.ScaleFactor)
		}
		if c.ShiftFactor <= 0 || c.ShiftFactor > 1 {
			return fmt.Errorf("shift factor must be in (0, 1], got %v", c.ShiftFactor)
		}
	default:
		return fmt.Errorf("unknown detector backend %q (want %s or %s)", c.Backend, BackendYuNet, BackendPigo)
	}
	return nil
}

// New creates the detector selected by cfg.Backend.
func New(cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	switch cfg.Backend {
	case BackendPigo:
		return NewPigo(cfg)
	default:
		return NewYuNet(cfg)
	}
}
