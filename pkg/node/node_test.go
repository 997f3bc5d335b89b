package node

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-facenode/pkg/bus"
	"github.com/teslashibe/go-facenode/pkg/frame"
	"github.com/teslashibe/go-facenode/pkg/metrics"
	"github.com/teslashibe/go-facenode/pkg/protocol"
)

// fakeDetector returns canned rects and records what it was shown.
type fakeDetector struct {
	mu    sync.Mutex
	rects []frame.Rect
	err   error
	seen  []frame.Image
}

func (d *fakeDetector) Detect(img frame.Image) ([]frame.Rect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, img)
	return d.rects, d.err
}

func (d *fakeDetector) Close() error { return nil }

func (d *fakeDetector) calls() []frame.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]frame.Image(nil), d.seen...)
}

// recorder collects everything published on a set of topics.
type recorder struct {
	mu   sync.Mutex
	msgs map[string][]*protocol.Message
}

func record(b *bus.Broker, topics ...string) *recorder {
	r := &recorder{msgs: make(map[string][]*protocol.Message)}
	for _, topic := range topics {
		b.Subscribe(topic, func(msg *protocol.Message) {
			r.mu.Lock()
			r.msgs[topic] = append(r.msgs[topic], msg)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) get(topic string) []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[topic]
}

func colorImage(w, h int) frame.Image {
	img := frame.MustNew(w, h, frame.BGR8)
	for i := range img.Data {
		img.Data[i] = byte(i % 251)
	}
	return img
}

func depthImage(w, h int, fn func(x, y int) uint16) frame.Image {
	img := frame.MustNew(w, h, frame.Mono16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			binary.LittleEndian.PutUint16(img.Data[y*img.Step+x*2:], fn(x, y))
		}
	}
	return img
}

func publishImage(t *testing.T, b *bus.Broker, topic string, img frame.Image, frameID string) {
	t.Helper()
	msg, err := protocol.NewImageMessage(img, frameID, 42)
	require.NoError(t, err)
	require.NoError(t, b.Publish(topic, msg))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RotationCycles = 0
	cfg.InformDetection = true
	cfg.ShowDetection = true
	return cfg
}

func newTestNode(t *testing.T, cfg Config, det *fakeDetector) (*Node, *bus.Broker, *recorder) {
	t.Helper()
	b := bus.NewBroker(nil)
	n, err := New(cfg, det, b, nil)
	require.NoError(t, err)
	n.Start()
	t.Cleanup(func() { n.Close() })

	topics := n.Topics()
	rec := record(b, topics.AnyDetection(), topics.FacesImages(), topics.DetectedFaces())
	return n, b, rec
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"ir only", func(c *Config) { c.RGBCamera = false; c.IRCamera = true }, ""},
		{"both cameras", func(c *Config) { c.IRCamera = true }, ""},
		{"no camera", func(c *Config) { c.RGBCamera = false }, "rgb_camera or ir_camera"},
		{"negative area", func(c *Config) { c.MinArea = -1 }, "min_area"},
		{"bad rgb encoding", func(c *Config) { c.RGBImageEncoding = "yuv422" }, "rgb_image_encoding"},
		{"bad ir encoding", func(c *Config) { c.RGBCamera = false; c.IRCamera = true; c.IRImageEncoding = "" }, "ir_image_encoding"},
		{"ir encoding unused", func(c *Config) { c.IRImageEncoding = "bogus" }, ""},
		{"bad depth encoding", func(c *Config) { c.DepthCamera = true; c.DepthImageEncoding = "bogus" }, "depth_image_encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigColorStream(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, bus.TopicColorImage, cfg.ColorTopic())
	assert.Equal(t, frame.BGR8, cfg.ColorEncoding())
	assert.Equal(t, 3, cfg.RotationCycles)

	cfg.IRCamera = true
	assert.Equal(t, bus.TopicColorImage, cfg.ColorTopic(), "rgb wins when both are set")

	cfg.RGBCamera = false
	assert.Equal(t, bus.TopicIRImage, cfg.ColorTopic())
	assert.Equal(t, frame.Mono16, cfg.ColorEncoding())
}

func TestNewErrors(t *testing.T) {
	b := bus.NewBroker(nil)

	_, err := New(DefaultConfig(), nil, b, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), &fakeDetector{}, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MinArea = -5
	_, err = New(cfg, &fakeDetector{}, b, nil)
	assert.Error(t, err)
}

func TestProcessCycle_SingleFace(t *testing.T) {
	det := &fakeDetector{rects: []frame.Rect{
		frame.R(0, 10, 0, 10),
		frame.R(5, 25, 5, 25),
		frame.R(0, 5, 0, 5),
	}}
	n, b, rec := newTestNode(t, testConfig(), det)
	topics := n.Topics()

	_, ran := n.ProcessCycle()
	assert.False(t, ran, "no frame yet")

	publishImage(t, b, topics.ColorImage(), colorImage(40, 30), "cam0")

	res, ran := n.ProcessCycle()
	require.True(t, ran)
	require.Len(t, res.Faces, 1)
	assert.Equal(t, frame.R(5, 25, 5, 25), res.Faces[0].Rect)
	assert.Nil(t, res.Faces[0].Depth)

	flags := rec.get(topics.AnyDetection())
	require.Len(t, flags, 1)
	flag, err := flags[0].GetBoolData()
	require.NoError(t, err)
	assert.True(t, flag.Data)

	faces := rec.get(topics.FacesImages())
	require.Len(t, faces, 1)
	data, err := faces[0].GetFacesData()
	require.NoError(t, err)
	require.Len(t, data.FacesImages, 1)
	assert.Empty(t, data.FacesDepthImages)
	assert.Equal(t, 20, data.FacesImages[0].Width)
	assert.Equal(t, 20, data.FacesImages[0].Height)
	assert.Equal(t, frame.BGR8, data.FacesImages[0].Encoding)
	assert.Equal(t, "cam0", data.FacesImages[0].FrameID)

	annotated := rec.get(topics.DetectedFaces())
	require.Len(t, annotated, 1)
	img, err := annotated[0].GetImageData()
	require.NoError(t, err)
	assert.Equal(t, 40, img.Width)
	assert.Equal(t, 30, img.Height)

	_, ran = n.ProcessCycle()
	assert.False(t, ran, "frame is consumed by the cycle")

	stats := n.Stats()
	assert.Equal(t, int64(1), stats.Cycles)
	assert.Equal(t, int64(3), stats.Detections)
	assert.Equal(t, int64(1), stats.FacesPublished)
}

func TestProcessCycle_AnnotatedFrameOutline(t *testing.T) {
	det := &fakeDetector{rects: []frame.Rect{frame.R(4, 14, 6, 16)}}
	n, b, rec := newTestNode(t, testConfig(), det)

	publishImage(t, b, n.Topics().ColorImage(), frame.MustNew(20, 20, frame.BGR8), "")
	_, ran := n.ProcessCycle()
	require.True(t, ran)

	msgs := rec.get(n.Topics().DetectedFaces())
	require.Len(t, msgs, 1)
	data, err := msgs[0].GetImageData()
	require.NoError(t, err)
	raw, err := data.DecodeImageData()
	require.NoError(t, err)
	img := frame.Image{Width: data.Width, Height: data.Height, Encoding: data.Encoding, Step: data.Step, Data: raw}

	// bgr8: green lands in channel 1
	assert.Equal(t, 255.0, img.At(6, 4, 1), "outer corner")
	assert.Equal(t, 255.0, img.At(7, 5, 1), "second outline pixel")
	assert.Equal(t, 0.0, img.At(8, 6, 1), "inside the outline")
	assert.Equal(t, 0.0, img.At(0, 0, 1), "outside the rect")
}

func TestProcessCycle_MultipleFaces(t *testing.T) {
	cfg := testConfig()
	cfg.MultipleDetection = true
	cfg.MinArea = 50
	det := &fakeDetector{rects: []frame.Rect{
		frame.R(0, 10, 0, 10),
		frame.R(0, 5, 0, 5), // filtered
		frame.R(20, 50, 30, 50),
	}}
	n, b, rec := newTestNode(t, cfg, det)

	publishImage(t, b, n.Topics().ColorImage(), colorImage(40, 30), "")
	res, ran := n.ProcessCycle()
	require.True(t, ran)
	require.Len(t, res.Faces, 2)
	assert.Equal(t, frame.R(0, 10, 0, 10), res.Faces[0].Rect)
	assert.Equal(t, frame.R(20, 30, 30, 40), res.Faces[1].Rect, "clamped to the frame")

	faces := rec.get(n.Topics().FacesImages())
	require.Len(t, faces, 1)
	data, err := faces[0].GetFacesData()
	require.NoError(t, err)
	assert.Len(t, data.FacesImages, 2)
}

func TestProcessCycle_NoDetections(t *testing.T) {
	n, b, rec := newTestNode(t, testConfig(), &fakeDetector{})

	publishImage(t, b, n.Topics().ColorImage(), colorImage(16, 16), "")
	res, ran := n.ProcessCycle()
	require.True(t, ran)
	assert.False(t, res.AnyDetected)

	flags := rec.get(n.Topics().AnyDetection())
	require.Len(t, flags, 1)
	flag, err := flags[0].GetBoolData()
	require.NoError(t, err)
	assert.False(t, flag.Data)
	assert.Empty(t, rec.get(n.Topics().FacesImages()))
	assert.Empty(t, rec.get(n.Topics().DetectedFaces()))
}

func TestProcessCycle_AllFiltered(t *testing.T) {
	cfg := testConfig()
	cfg.MinArea = 1000
	det := &fakeDetector{rects: []frame.Rect{frame.R(0, 10, 0, 10)}}
	n, b, rec := newTestNode(t, cfg, det)

	publishImage(t, b, n.Topics().ColorImage(), colorImage(16, 16), "")
	res, ran := n.ProcessCycle()
	require.True(t, ran)
	assert.True(t, res.AnyDetected)
	assert.Empty(t, res.Faces)

	require.Len(t, rec.get(n.Topics().AnyDetection()), 1)
	assert.Empty(t, rec.get(n.Topics().FacesImages()), "nothing emitted, nothing published")
}

func TestProcessCycle_InformDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.InformDetection = false
	cfg.ShowDetection = false
	det := &fakeDetector{rects: []frame.Rect{frame.R(0, 10, 0, 10)}}
	n, b, rec := newTestNode(t, cfg, det)

	publishImage(t, b, n.Topics().ColorImage(), colorImage(16, 16), "")
	_, ran := n.ProcessCycle()
	require.True(t, ran)

	assert.Empty(t, rec.get(n.Topics().AnyDetection()))
	assert.Empty(t, rec.get(n.Topics().DetectedFaces()))
	assert.Len(t, rec.get(n.Topics().FacesImages()), 1)
}

func TestProcessCycle_DepthClosest(t *testing.T) {
	cfg := testConfig()
	cfg.DepthCamera = true
	det := &fakeDetector{rects: []frame.Rect{
		frame.R(10, 30, 10, 30), // larger but farther
		frame.R(0, 10, 0, 10),
	}}
	n, b, rec := newTestNode(t, cfg, det)
	topics := n.Topics()

	publishImage(t, b, topics.ColorImage(), colorImage(40, 40), "")
	_, ran := n.ProcessCycle()
	assert.False(t, ran, "waits for the depth frame")

	depth := depthImage(40, 40, func(x, y int) uint16 {
		if x < 10 && y < 10 {
			return 500
		}
		return 2000
	})
	publishImage(t, b, topics.DepthImage(), depth, "")

	res, ran := n.ProcessCycle()
	require.True(t, ran)
	require.Len(t, res.Faces, 1)
	assert.Equal(t, frame.R(0, 10, 0, 10), res.Faces[0].Rect)
	require.NotNil(t, res.Faces[0].Depth)
	assert.Equal(t, []float64{500}, res.Faces[0].Depth.Mean())

	faces := rec.get(topics.FacesImages())
	require.Len(t, faces, 1)
	data, err := faces[0].GetFacesData()
	require.NoError(t, err)
	require.Len(t, data.FacesDepthImages, 1)
	assert.Equal(t, frame.Mono16, data.FacesDepthImages[0].Encoding)
	assert.Equal(t, 10, data.FacesDepthImages[0].Width)
}

func TestProcessCycle_Rotation(t *testing.T) {
	cfg := testConfig()
	cfg.RotationCycles = 3
	det := &fakeDetector{}
	n, b, _ := newTestNode(t, cfg, det)

	publishImage(t, b, n.Topics().ColorImage(), colorImage(40, 30), "")
	_, ran := n.ProcessCycle()
	require.True(t, ran)

	seen := det.calls()
	require.Len(t, seen, 1)
	assert.Equal(t, 30, seen[0].Width)
	assert.Equal(t, 40, seen[0].Height)
}

func TestProcessCycle_IRConversion(t *testing.T) {
	cfg := testConfig()
	cfg.RGBCamera = false
	cfg.IRCamera = true
	cfg.IRImageEncoding = frame.Mono8
	det := &fakeDetector{}
	n, b, _ := newTestNode(t, cfg, det)

	publishImage(t, b, n.Topics().IRImage(), colorImage(8, 8), "")
	_, ran := n.ProcessCycle()
	require.True(t, ran)

	seen := det.calls()
	require.Len(t, seen, 1)
	assert.Equal(t, frame.Mono8, seen[0].Encoding)
}

func TestReceive_DecodeError(t *testing.T) {
	n, b, _ := newTestNode(t, testConfig(), &fakeDetector{})

	msg, err := protocol.NewBoolMessage(true)
	require.NoError(t, err)
	require.NoError(t, b.Publish(n.Topics().ColorImage(), msg))

	bad := protocol.ImageDataFromFrame(colorImage(8, 8), "", 0)
	bad.Height = 100 // more rows than data
	msg, err = protocol.NewMessage(protocol.TypeImage, bad)
	require.NoError(t, err)
	require.NoError(t, b.Publish(n.Topics().ColorImage(), msg))

	_, ran := n.ProcessCycle()
	assert.False(t, ran)
	stats := n.Stats()
	assert.Equal(t, int64(2), stats.FramesReceived)
	assert.Equal(t, int64(2), stats.DecodeErrors)
}

func TestProcessCycle_DetectorError(t *testing.T) {
	det := &fakeDetector{err: errors.New("inference failed")}
	n, b, rec := newTestNode(t, testConfig(), det)

	publishImage(t, b, n.Topics().ColorImage(), colorImage(8, 8), "")
	_, ran := n.ProcessCycle()
	require.True(t, ran)

	assert.Equal(t, int64(1), n.Stats().DetectorErrors)
	assert.Equal(t, int64(0), n.Stats().Cycles)
	assert.Empty(t, rec.get(n.Topics().AnyDetection()))

	_, ran = n.ProcessCycle()
	assert.False(t, ran, "frames are discarded after a failed cycle")
}

func TestLatestFrameWins(t *testing.T) {
	det := &fakeDetector{rects: []frame.Rect{frame.R(0, 4, 0, 4)}}
	n, b, rec := newTestNode(t, testConfig(), det)

	publishImage(t, b, n.Topics().ColorImage(), colorImage(8, 8), "first")
	publishImage(t, b, n.Topics().ColorImage(), colorImage(8, 8), "second")

	_, ran := n.ProcessCycle()
	require.True(t, ran)
	_, ran = n.ProcessCycle()
	assert.False(t, ran)

	faces := rec.get(n.Topics().FacesImages())
	require.Len(t, faces, 1)
	data, err := faces[0].GetFacesData()
	require.NoError(t, err)
	assert.Equal(t, "second", data.FacesImages[0].FrameID)
	assert.Equal(t, int64(1), n.Stats().ColorDropped)
}

func TestRun(t *testing.T) {
	m := metrics.New()
	b := bus.NewBroker(nil)
	det := &fakeDetector{rects: []frame.Rect{frame.R(0, 4, 0, 4)}}
	n, err := New(testConfig(), det, b, nil, WithMetrics(m))
	require.NoError(t, err)
	rec := record(b, n.Topics().FacesImages())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	msg, err := protocol.NewImageMessage(colorImage(8, 8), "", 0)
	require.NoError(t, err)

	// Run subscribes asynchronously, keep publishing until a cycle lands
	require.Eventually(t, func() bool {
		_ = b.Publish(n.Topics().ColorImage(), msg)
		return len(rec.get(n.Topics().FacesImages())) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body), "facenode_cycles_total"))
}
