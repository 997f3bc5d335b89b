package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-facenode/pkg/debug"
	"github.com/teslashibe/go-facenode/pkg/frame"
	"gocv.io/x/gocv"
)

// YuNetDetector uses OpenCV's FaceDetectorYN for face detection
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	config   Config
	mu       sync.Mutex // Protects inference
	closed   bool
}

// NewYuNet creates a new YuNet face detector using GoCV's built-in FaceDetectorYN
func NewYuNet(cfg Config) (*YuNetDetector, error) {
	// Check if model file exists first
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	nms := cfg.NMSThresh
	if nms <= 0 {
		nms = 0.3
	}

	// Create FaceDetectorYN with initial size (updated per frame)
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",                                        // No config file needed for ONNX
		image.Pt(cfg.InputWidth, cfg.InputHeight), // Initial input size
		float32(cfg.ConfidenceThresh),             // Score threshold
		float32(nms),                              // NMS threshold
		5000,                                      // Top K
		int(gocv.NetBackendDefault),               // Backend
		int(gocv.NetTargetCPU),                    // Target
	)

	return &YuNetDetector{
		detector: detector,
		config:   cfg,
	}, nil
}

// Detect finds faces in the frame. Non-color frames are normalised to
// 8-bit gray and replicated across channels first.
func (d *YuNetDetector) Detect(img frame.Image) ([]frame.Rect, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	bgr, err := img.BGR8()
	if err != nil {
		return nil, fmt.Errorf("prepare image: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	mat, err := gocv.NewMatFromBytes(bgr.Height, bgr.Width, gocv.MatTypeCV8UC3, bgr.Data)
	if err != nil {
		return nil, fmt.Errorf("wrap image: %w", err)
	}
	defer mat.Close()

	// Update detector input size to match image
	d.detector.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))

	// Prepare output matrix for faces
	faces := gocv.NewMat()
	defer faces.Close()

	// Run detection
	d.detector.Detect(mat, &faces)

	// Parse results
	rects := make([]frame.Rect, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		// YuNet output format (15 columns):
		// 0-3: x, y, w, h (bounding box in pixels)
		// 4-13: 5 facial landmarks (x,y pairs)
		// 14: face score
		det := Detection{
			X:          float64(faces.GetFloatAt(r, 0)),
			Y:          float64(faces.GetFloatAt(r, 1)),
			W:          float64(faces.GetFloatAt(r, 2)),
			H:          float64(faces.GetFloatAt(r, 3)),
			Confidence: float64(faces.GetFloatAt(r, 14)),
		}
		rects = append(rects, det.Rect())
		debug.DetectLog("yunet face", "rect", det.Rect().String(), "score", det.Confidence)
	}

	return rects, nil
}

// Close releases the detector resources
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.detector.Close()
	return nil
}
