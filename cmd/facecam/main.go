// facecam - feeds a face node
// Publishes image files or a robot's WebRTC camera to a node's bus, and
// prints node status.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-facenode/internal/config"
	"github.com/teslashibe/go-facenode/internal/httpc"
	"github.com/teslashibe/go-facenode/internal/log"
	"github.com/teslashibe/go-facenode/pkg/bus"
	"github.com/teslashibe/go-facenode/pkg/frame"
	"github.com/teslashibe/go-facenode/pkg/protocol"
	"github.com/teslashibe/go-facenode/pkg/source"
)

type options struct {
	nodeURL   string
	namespace string
	topic     string
	encoding  string
	images    []string
	interval  time.Duration
	loop      bool
	jpeg      int
	robotIP   string
	status    bool
	watch     string
}

func main() {
	opts := parseFlags()
	log.Init(os.Getenv("FACENODE_LOG_LEVEL"))
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case opts.status:
		err = printStatus(opts)
	case opts.watch != "":
		err = watch(ctx, opts)
	case len(opts.images) > 0:
		err = publishFiles(ctx, opts)
	case opts.robotIP != "":
		err = publishCamera(ctx, opts)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("facecam failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	var images string

	flag.StringVar(&opts.nodeURL, "node", "http://localhost"+config.DefaultAddr, "Face node base URL")
	flag.StringVar(&opts.namespace, "namespace", bus.DefaultPrefix, "Topic namespace")
	flag.StringVar(&opts.topic, "topic", bus.TopicColorImage, "Topic to publish to (under the namespace)")
	flag.StringVar(&opts.encoding, "encoding", frame.BGR8, "Encoding of published frames")
	flag.StringVar(&images, "images", "", "Comma separated image files to publish")
	flag.DurationVar(&opts.interval, "interval", 200*time.Millisecond, "Delay between published frames")
	flag.BoolVar(&opts.loop, "loop", false, "Repeat -images until interrupted")
	flag.IntVar(&opts.jpeg, "jpeg", 0, "Send frames as JPEG with this quality (0 sends raw pixels)")
	flag.StringVar(&opts.robotIP, "robot-ip", "", "Publish the robot's WebRTC camera (overrides ROBOT_IP env var)")
	flag.BoolVar(&opts.status, "status", false, "Print the node's /api/status and exit")
	flag.StringVar(&opts.watch, "watch", "", "Print a summary of every message on this topic (under the namespace)")
	flag.Parse()

	if images != "" {
		opts.images = strings.Split(images, ",")
	}
	if opts.robotIP == "" {
		opts.robotIP = config.RobotIP("")
	}
	if !frame.ValidEncoding(opts.encoding) {
		stdlog.Fatalf("❌ Unsupported encoding %q", opts.encoding)
	}
	return opts
}

func printStatus(opts options) error {
	var status map[string]any
	resp, err := httpc.NewREST(opts.nodeURL).R().
		SetResult(&status).
		Get("/api/status")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errors.New("status request failed: " + resp.Status())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

// message packs img as raw pixels or JPEG.
func message(img frame.Image, quality int, frameID string) (*protocol.Message, error) {
	stamp := time.Now().UnixNano()
	if quality <= 0 {
		return protocol.NewImageMessage(img, frameID, stamp)
	}
	data, err := protocol.JPEGImageDataFromFrame(img, quality, frameID, stamp)
	if err != nil {
		return nil, err
	}
	return protocol.NewMessage(protocol.TypeImage, data)
}

func dialPublisher(ctx context.Context, opts options) (*bus.Client, string, error) {
	topic := bus.NewTopics(opts.namespace).Name(opts.topic)
	pub, err := bus.DialPublisher(ctx, opts.nodeURL, topic, log.L())
	return pub, topic, err
}

func publishFiles(ctx context.Context, opts options) error {
	frames := make([]frame.Image, 0, len(opts.images))
	for _, path := range opts.images {
		data, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return err
		}
		img, err := frame.Decode(data, opts.encoding)
		if err != nil {
			return err
		}
		frames = append(frames, img)
	}

	pub, topic, err := dialPublisher(ctx, opts)
	if err != nil {
		return err
	}
	defer pub.Close()
	log.Info("publishing images", "topic", topic, "count", len(frames), "loop", opts.loop)

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		for i, img := range frames {
			msg, err := message(img, opts.jpeg, filepath.Base(opts.images[i]))
			if err != nil {
				return err
			}
			if err := pub.Publish(msg); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if !opts.loop {
			log.Info("done", "sent", pub.Stats())
			return nil
		}
	}
}

func publishCamera(ctx context.Context, opts options) error {
	camCfg := source.DefaultWebRTCConfig(opts.robotIP)
	camCfg.Encoding = opts.encoding
	camCfg.DecodeInterval = opts.interval
	cam := source.NewWebRTCCamera(camCfg, log.L())
	defer cam.Close()

	if err := cam.Connect(ctx); err != nil {
		return err
	}

	pub, topic, err := dialPublisher(ctx, opts)
	if err != nil {
		return err
	}
	defer pub.Close()
	log.Info("publishing robot camera", "robot", opts.robotIP, "topic", topic)

	frameID := "camera-" + uuid.NewString()[:8]
	for {
		select {
		case <-ctx.Done():
			log.Info("camera stopped", "camera", cam.Stats(), "bus", pub.Stats())
			return ctx.Err()
		case <-pub.Done():
			return errors.New("bus connection closed")
		case img := <-cam.Frames():
			msg, err := message(img, opts.jpeg, frameID)
			if err != nil {
				log.Warn("failed to pack frame", "error", err)
				continue
			}
			if err := pub.Publish(msg); err != nil {
				return err
			}
		}
	}
}

// watch prints one line per message received on a topic.
func watch(ctx context.Context, opts options) error {
	topic := bus.NewTopics(opts.namespace).Name(opts.watch)
	sub, err := bus.DialSubscriber(ctx, opts.nodeURL, topic, 8, log.L())
	if err != nil {
		return err
	}
	defer sub.Close()
	log.Info("watching", "topic", topic)

	for {
		msg, err := sub.Read(ctx)
		if err != nil {
			return err
		}
		switch msg.Type {
		case protocol.TypeFaces:
			faces, err := msg.GetFacesData()
			if err != nil {
				return err
			}
			log.Info("faces", "count", len(faces.FacesImages), "depth", len(faces.FacesDepthImages))
		case protocol.TypeBool:
			b, err := msg.GetBoolData()
			if err != nil {
				return err
			}
			log.Info("any_detection", "value", b.Data)
		case protocol.TypeImage:
			img, err := msg.GetImageData()
			if err != nil {
				return err
			}
			log.Info("image", "width", img.Width, "height", img.Height, "encoding", img.Encoding, "frame_id", img.FrameID)
		default:
			log.Info("message", "type", msg.Type)
		}
	}
}
