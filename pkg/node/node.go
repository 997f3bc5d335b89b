// Package node runs the face detection loop: it takes the latest frames from
// the bus, detects and selects faces, and publishes the crops.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-facenode/pkg/bus"
	"github.com/teslashibe/go-facenode/pkg/debug"
	"github.com/teslashibe/go-facenode/pkg/detection"
	"github.com/teslashibe/go-facenode/pkg/frame"
	"github.com/teslashibe/go-facenode/pkg/framebuf"
	"github.com/teslashibe/go-facenode/pkg/metrics"
	"github.com/teslashibe/go-facenode/pkg/protocol"
	"github.com/teslashibe/go-facenode/pkg/selector"
	"github.com/teslashibe/go-facenode/pkg/source"
)

// Outline thickness of faces drawn on the detected_faces frame
const outlineThickness = 2

// Bus is the transport the node subscribes and publishes on.
type Bus interface {
	Publish(topic string, msg *protocol.Message) error
	Subscribe(topic string, h bus.Handler) (unsubscribe func())
}

// Input is a decoded frame with the metadata of the message it came from.
type Input struct {
	Image   frame.Image
	FrameID string
	Stamp   int64
}

// Node is a face detection node
type Node struct {
	config   Config
	topics   *bus.Topics
	detector detection.Detector
	bus      Bus
	logger   *slog.Logger
	metrics  *metrics.Metrics

	colorTopic string
	depthTopic string
	colorDec   *source.Decoder
	depthDec   *source.Decoder

	color *framebuf.Slot[Input]
	depth *framebuf.Slot[Input]

	mu     sync.Mutex
	unsubs []func()

	stats struct {
		framesReceived atomic.Int64
		decodeErrors   atomic.Int64
		cycles         atomic.Int64
		detectorErrors atomic.Int64
		detections     atomic.Int64
		facesPublished atomic.Int64
		publishErrors  atomic.Int64
		lastCycleNanos atomic.Int64
	}
}

// Option configures a Node.
type Option func(*Node)

// WithMetrics records node activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// New creates a node. It does not subscribe until Start or Run is called.
func New(cfg Config, det detection.Detector, b Bus, logger *slog.Logger, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}
	if det == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if b == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	colorDec, err := source.NewDecoder(cfg.ColorEncoding(), cfg.RotationCycles)
	if err != nil {
		return nil, err
	}

	topics := bus.NewTopics(cfg.Namespace)
	n := &Node{
		config:     cfg,
		topics:     topics,
		detector:   det,
		bus:        b,
		logger:     logger.With("component", "node"),
		colorTopic: topics.Name(cfg.ColorTopic()),
		colorDec:   colorDec,
		color:      framebuf.NewSlot[Input](),
	}
	if cfg.DepthCamera {
		n.depthDec, err = source.NewDecoder(cfg.DepthImageEncoding, cfg.RotationCycles)
		if err != nil {
			return nil, err
		}
		n.depthTopic = topics.DepthImage()
		n.depth = framebuf.NewSlot[Input]()
	}
	for _, opt := range opts {
		opt(n)
	}

	if cfg.RGBCamera && cfg.IRCamera {
		n.logger.Warn("both rgb_camera and ir_camera set, using rgb", "topic", n.colorTopic)
	}
	return n, nil
}

// Config returns the node configuration.
func (n *Node) Config() Config {
	return n.config
}

// Topics returns the topic helper for the node namespace.
func (n *Node) Topics() *bus.Topics {
	return n.topics
}

// Start subscribes to the input topics. Calling it again is a no-op.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unsubs != nil {
		return
	}

	n.unsubs = append(n.unsubs, n.bus.Subscribe(n.colorTopic, func(msg *protocol.Message) {
		n.receive(msg, n.colorTopic, "color", n.colorDec, n.color)
	}))
	if n.depth != nil {
		n.unsubs = append(n.unsubs, n.bus.Subscribe(n.depthTopic, func(msg *protocol.Message) {
			n.receive(msg, n.depthTopic, "depth", n.depthDec, n.depth)
		}))
	}

	n.logger.Info("node subscribed",
		"color", n.colorTopic,
		"depth", n.depthTopic,
		"encoding", n.colorDec.Encoding,
		"rotations", n.config.RotationCycles)
}

// Close unsubscribes from the input topics.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, unsub := range n.unsubs {
		unsub()
	}
	n.unsubs = nil
	return nil
}

// receive decodes an incoming image into its slot. Decode failures leave the
// slot untouched.
func (n *Node) receive(msg *protocol.Message, topic, slot string, dec *source.Decoder, dst *framebuf.Slot[Input]) {
	n.stats.framesReceived.Add(1)
	n.metrics.FrameReceived(topic)

	data, err := msg.GetImageData()
	if err != nil {
		n.decodeFailed(topic, err)
		return
	}
	img, err := dec.Decode(data)
	if err != nil {
		n.decodeFailed(topic, err)
		return
	}

	if dst.Put(Input{Image: img, FrameID: data.FrameID, Stamp: data.Stamp}) {
		n.metrics.FrameDropped(slot)
	}
	debug.Log("frame stored", "slot", slot, "width", img.Width, "height", img.Height, "frame_id", data.FrameID)
}

func (n *Node) decodeFailed(topic string, err error) {
	n.stats.decodeErrors.Add(1)
	n.metrics.DecodeError(topic)
	n.logger.Warn("failed to decode image", "topic", topic, "error", err)
}

// Run subscribes and processes cycles until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.Start()
	defer n.Close()

	var depthReady <-chan struct{}
	if n.depth != nil {
		depthReady = n.depth.Ready()
	}

	for {
		for {
			if _, ran := n.ProcessCycle(); !ran {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.color.Ready():
		case <-depthReady:
		}
	}
}

// ProcessCycle runs one cycle if a color frame (and a depth frame when depth
// is enabled) is waiting. Both frames are consumed. ran is false if the
// inputs were not ready.
func (n *Node) ProcessCycle() (res selector.Result, ran bool) {
	if !n.color.Full() || (n.depth != nil && !n.depth.Full()) {
		return selector.Result{}, false
	}
	color, _ := n.color.Take()

	var depth *frame.Image
	if n.depth != nil {
		d, _ := n.depth.Take()
		depth = &d.Image
	}

	res, err := n.Process(color, depth)
	if err != nil {
		n.logger.Warn("cycle skipped", "frame_id", color.FrameID, "error", err)
	}
	return res, true
}

// Process detects faces on color, selects them and publishes the results.
// depth must be set when depth is enabled.
func (n *Node) Process(color Input, depth *frame.Image) (selector.Result, error) {
	start := time.Now()

	rects, err := n.detector.Detect(color.Image)
	if err != nil {
		n.stats.detectorErrors.Add(1)
		n.metrics.DetectorError()
		return selector.Result{}, fmt.Errorf("detect: %w", err)
	}

	cfg := n.config.Selector()
	if depth == nil {
		cfg.DepthCamera = false
	}
	res := selector.Select(color.Image, depth, rects, cfg)
	n.publish(res, color)

	elapsed := time.Since(start)
	n.stats.cycles.Add(1)
	n.stats.detections.Add(int64(len(rects)))
	n.stats.facesPublished.Add(int64(len(res.Faces)))
	n.stats.lastCycleNanos.Store(int64(elapsed))
	n.metrics.ObserveCycle(elapsed, len(rects), len(res.Faces))

	if len(rects) > 0 {
		n.logger.Debug("cycle complete",
			"frame_id", color.FrameID,
			"detections", len(rects),
			"faces", len(res.Faces),
			"elapsed", elapsed)
	}
	return res, nil
}

func (n *Node) publish(res selector.Result, color Input) {
	if n.config.InformDetection {
		msg, err := protocol.NewBoolMessage(res.AnyDetected)
		n.send(n.topics.AnyDetection(), msg, err)
	}

	if len(res.Faces) == 0 {
		return
	}

	faces := make([]frame.Image, len(res.Faces))
	var depths []frame.Image
	if res.Faces[0].Depth != nil {
		depths = make([]frame.Image, len(res.Faces))
	}
	for i, f := range res.Faces {
		faces[i] = f.Color
		if depths != nil {
			depths[i] = *f.Depth
		}
	}
	msg, err := protocol.NewFacesMessage(faces, depths, color.FrameID, color.Stamp)
	n.send(n.topics.FacesImages(), msg, err)

	if n.config.ShowDetection {
		annotated := color.Image
		for _, f := range res.Faces {
			annotated = frame.DrawRect(annotated, f.Rect, frame.Green, outlineThickness)
		}
		msg, err := protocol.NewImageMessage(annotated, color.FrameID, color.Stamp)
		n.send(n.topics.DetectedFaces(), msg, err)
	}
}

// send publishes msg unless building it failed. Failures are logged only.
func (n *Node) send(topic string, msg *protocol.Message, err error) {
	if err == nil {
		err = n.bus.Publish(topic, msg)
	}
	if err != nil {
		n.stats.publishErrors.Add(1)
		n.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// Stats contains node statistics.
type Stats struct {
	FramesReceived int64   `json:"frames_received"`
	DecodeErrors   int64   `json:"decode_errors"`
	ColorDropped   int64   `json:"color_dropped"`
	DepthDropped   int64   `json:"depth_dropped"`
	Cycles         int64   `json:"cycles"`
	DetectorErrors int64   `json:"detector_errors"`
	Detections     int64   `json:"detections"`
	FacesPublished int64   `json:"faces_published"`
	PublishErrors  int64   `json:"publish_errors"`
	LastCycleMs    float64 `json:"last_cycle_ms"`
}

// Stats returns node statistics.
func (n *Node) Stats() Stats {
	s := Stats{
		FramesReceived: n.stats.framesReceived.Load(),
		DecodeErrors:   n.stats.decodeErrors.Load(),
		ColorDropped:   n.color.Dropped(),
		Cycles:         n.stats.cycles.Load(),
		DetectorErrors: n.stats.detectorErrors.Load(),
		Detections:     n.stats.detections.Load(),
		FacesPublished: n.stats.facesPublished.Load(),
		PublishErrors:  n.stats.publishErrors.Load(),
		LastCycleMs:    float64(n.stats.lastCycleNanos.Load()) / float64(time.Millisecond),
	}
	if n.depth != nil {
		s.DepthDropped = n.depth.Dropped()
	}
	return s
}
