// facenode - face detection node
// Subscribes to camera image topics, detects faces and publishes the crops.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/teslashibe/go-facenode/internal/config"
	"github.com/teslashibe/go-facenode/internal/log"
	"github.com/teslashibe/go-facenode/pkg/bus"
	"github.com/teslashibe/go-facenode/pkg/debug"
	"github.com/teslashibe/go-facenode/pkg/detection"
	"github.com/teslashibe/go-facenode/pkg/frame"
	"github.com/teslashibe/go-facenode/pkg/metrics"
	"github.com/teslashibe/go-facenode/pkg/node"
	"github.com/teslashibe/go-facenode/pkg/source"
	"github.com/teslashibe/go-facenode/pkg/web"
)

// options are command line settings that are not part of config.File.
type options struct {
	configPath string
	image      string
	outDir     string
}

func main() {
	cfg, opts := loadConfig()

	log.Init(cfg.Log.Level)
	debug.Enabled = cfg.Log.Debug
	debug.Detection = cfg.Log.Debug
	logger := log.L()

	det, err := detection.New(cfg.Detector)
	if err != nil {
		stdlog.Fatalf("❌ Detector initialization failed: %v", err)
	}
	defer det.Close()
	logger.Info("detector ready", "backend", cfg.Detector.Backend)

	m := metrics.New()
	broker := bus.NewBroker(logger.With("component", "bus"), bus.WithQueueSize(cfg.Server.QueueSize))
	defer broker.Close()
	m.RegisterGauge("bus_remote_subscribers", "Connected remote bus subscribers", func() float64 {
		return float64(broker.Stats().RemoteSubscribers)
	})

	n, err := node.New(cfg.Node, det, broker, logger, node.WithMetrics(m))
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	if opts.image != "" {
		if err := runOnce(n, cfg.Node, opts); err != nil {
			stdlog.Fatalf("❌ %v", err)
		}
		return
	}

	srv := web.NewServer(broker, func() any {
		return nodeStatus{Config: n.Config(), Stats: n.Stats()}
	}, m, logger)
	srv.StartAsync(cfg.Server.Addr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("face node running",
		"addr", cfg.Server.Addr,
		"namespace", cfg.Node.Namespace,
		"multiple_detection", cfg.Node.MultipleDetection,
		"depth_camera", cfg.Node.DepthCamera)

	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("node stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("web server shutdown", "error", err)
	}
	logger.Info("face node stopped", "stats", n.Stats())
}

// nodeStatus is the node section of /api/status.
type nodeStatus struct {
	Config node.Config `json:"config"`
	Stats  node.Stats  `json:"stats"`
}

// loadConfig builds the configuration: defaults, then the YAML file, then
// FACENODE_* env vars, then flags that were set explicitly.
func loadConfig() (config.File, options) {
	def := config.Default()
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flag.StringVar(&opts.image, "image", "", "Process a single image file and exit")
	flag.StringVar(&opts.outDir, "out", "", "With -image, write face crops as JPEG to this directory")

	addr := flag.String("addr", def.Server.Addr, "HTTP and bus listen address")
	logLevel := flag.String("log-level", def.Log.Level, "Log level: debug, info, warn, error")
	debugFlag := flag.Bool("debug", false, "Enable verbose per-detection logging")

	namespace := flag.String("namespace", def.Node.Namespace, "Topic namespace")
	rotations := flag.Int("rotation-cycles", def.Node.RotationCycles, "Counter-clockwise quarter turns applied to incoming frames")
	rgbCamera := flag.Bool("rgb-camera", def.Node.RGBCamera, "Detect on the color_image topic")
	depthCamera := flag.Bool("depth-camera", def.Node.DepthCamera, "Use depth_image to pick the closest face")
	irCamera := flag.Bool("ir-camera", def.Node.IRCamera, "Detect on the ir_image topic (when rgb is off)")
	rgbEncoding := flag.String("rgb-image-encoding", def.Node.RGBImageEncoding, "Encoding of color frames")
	irEncoding := flag.String("ir-image-encoding", def.Node.IRImageEncoding, "Encoding of IR frames")
	depthEncoding := flag.String("depth-image-encoding", def.Node.DepthImageEncoding, "Encoding of depth frames")
	multiple := flag.Bool("multiple-detection", def.Node.MultipleDetection, "Publish every face instead of the closest")
	show := flag.Bool("show-detection", def.Node.ShowDetection, "Publish annotated frames on detected_faces")
	inform := flag.Bool("inform-detection", def.Node.InformDetection, "Publish any_detection every cycle")
	minArea := flag.Int("min-area", def.Node.MinArea, "Minimum face area in pixels")

	backend := flag.String("detector", def.Detector.Backend, "Detector backend: yunet, pigo")
	model := flag.String("model", def.Detector.ModelPath, "YuNet ONNX model path")
	cascade := flag.String("cascade", def.Detector.CascadePath, "Pigo cascade path")
	confidence := flag.Float64("confidence", def.Detector.ConfidenceThresh, "YuNet confidence threshold")

	flag.Parse()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		stdlog.Fatalf("❌ %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "debug":
			cfg.Log.Debug = *debugFlag
		case "namespace":
			cfg.Node.Namespace = *namespace
		case "rotation-cycles":
			cfg.Node.RotationCycles = *rotations
		case "rgb-camera":
			cfg.Node.RGBCamera = *rgbCamera
		case "depth-camera":
			cfg.Node.DepthCamera = *depthCamera
		case "ir-camera":
			cfg.Node.IRCamera = *irCamera
		case "rgb-image-encoding":
			cfg.Node.RGBImageEncoding = *rgbEncoding
		case "ir-image-encoding":
			cfg.Node.IRImageEncoding = *irEncoding
		case "depth-image-encoding":
			cfg.Node.DepthImageEncoding = *depthEncoding
		case "multiple-detection":
			cfg.Node.MultipleDetection = *multiple
		case "show-detection":
			cfg.Node.ShowDetection = *show
		case "inform-detection":
			cfg.Node.InformDetection = *inform
		case "min-area":
			cfg.Node.MinArea = *minArea
		case "detector":
			cfg.Detector.Backend = *backend
		case "model":
			cfg.Detector.ModelPath = *model
		case "cascade":
			cfg.Detector.CascadePath = *cascade
		case "confidence":
			cfg.Detector.ConfidenceThresh = *confidence
		}
	})

	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}
	return cfg, opts
}

// runOnce runs a single cycle on an image file and prints the result.
// Depth selection is not available in this mode.
func runOnce(n *node.Node, cfg node.Config, opts options) error {
	data, err := os.ReadFile(opts.image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	img, err := frame.Decode(data, cfg.ColorEncoding())
	if err != nil {
		return err
	}
	dec, err := source.NewDecoder(cfg.ColorEncoding(), cfg.RotationCycles)
	if err != nil {
		return err
	}
	img, err = dec.Prepare(img)
	if err != nil {
		return err
	}

	res, err := n.Process(node.Input{Image: img, FrameID: filepath.Base(opts.image)}, nil)
	if err != nil {
		return err
	}

	type face struct {
		Rect   frame.Rect `json:"rect"`
		Width  int        `json:"width"`
		Height int        `json:"height"`
		File   string     `json:"file,omitempty"`
	}
	out := struct {
		Image       string `json:"image"`
		AnyDetected bool   `json:"any_detected"`
		Faces       []face `json:"faces"`
	}{Image: opts.image, AnyDetected: res.AnyDetected, Faces: []face{}}

	for i, f := range res.Faces {
		entry := face{Rect: f.Rect, Width: f.Color.Width, Height: f.Color.Height}
		if opts.outDir != "" && !f.Color.Empty() {
			jpeg, err := f.Color.EncodeJPEG(90)
			if err != nil {
				return err
			}
			entry.File = filepath.Join(opts.outDir, fmt.Sprintf("face_%02d.jpg", i))
			if err := os.WriteFile(entry.File, jpeg, 0o644); err != nil {
				return fmt.Errorf("failed to write crop: %w", err)
			}
		}
		out.Faces = append(out.Faces, entry)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
