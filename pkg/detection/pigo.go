package detection

import (
	"fmt"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"
	"github.com/teslashibe/go-facenode/pkg/debug"
	"github.com/teslashibe/go-facenode/pkg/frame"
)

// PigoDetector runs the pigo pixel intensity cascade. It needs no native
// libraries, only the facefinder cascade file.
type PigoDetector struct {
	classifier *pigo.Pigo
	config     Config
	mu         sync.Mutex
}

// NewPigo loads the cascade at cfg.CascadePath.
func NewPigo(cfg Config) (*PigoDetector, error) {
	cascade, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	return NewPigoFromCascade(cascade, cfg)
}

// NewPigoFromCascade builds a detector from an in-memory cascade.
func NewPigoFromCascade(cascade []byte, cfg Config) (*PigoDetector, error) {
	if len(cascade) < 8 {
		return nil, fmt.Errorf("failed to unpack cascade: %d bytes", len(cascade))
	}
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &PigoDetector{
		classifier: classifier,
		config:     cfg,
	}, nil
}

// Detect finds faces in the frame.
func (d *PigoDetector) Detect(img frame.Image) ([]frame.Rect, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	// Pigo works on 8-bit grayscale
	gray := img.Gray8()

	cParams := pigo.CascadeParams{
		MinSize:     d.config.MinSize,
		MaxSize:     d.config.MaxSize,
		ShiftFactor: d.config.ShiftFactor,
		ScaleFactor: d.config.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray,
			Rows:   img.Height,
			Cols:   img.Width,
			Dim:    img.Width,
		},
	}

	d.mu.Lock()
	if d.classifier == nil {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	// 0.0 keeps every candidate; the quality threshold filters after clustering
	dets := d.classifier.RunCascade(cParams, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.config.IoUThreshold)
	d.mu.Unlock()

	return toRects(dets, d.config.QualityThresh), nil
}

// toRects converts clustered pigo detections, dropping low quality hits.
// Pigo reports the window center (Row, Col) and its side length (Scale).
func toRects(dets []pigo.Detection, minQuality float32) []frame.Rect {
	rects := make([]frame.Rect, 0, len(dets))
	for _, det := range dets {
		if det.Q < minQuality {
			continue
		}
		half := det.Scale / 2
		r := frame.Rect{
			Top:    det.Row - half,
			Bottom: det.Row - half + det.Scale,
			Left:   det.Col - half,
			Right:  det.Col - half + det.Scale,
		}
		rects = append(rects, r)
		debug.DetectLog("pigo face", "rect", r.String(), "quality", det.Q)
	}
	return rects
}

// Close releases the classifier.
func (d *PigoDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classifier = nil
	return nil
}
