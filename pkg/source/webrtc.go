package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/teslashibe/go-facenode/pkg/frame"
)

// WebRTCConfig configures a WebRTCCamera.
type WebRTCConfig struct {
	// RobotIP is the robot's address; signalling runs on port 8443.
	RobotIP string
	// Producer is the GStreamer producer name to attach to.
	Producer string
	// Encoding of the emitted frames
	Encoding string
	// DecodeInterval limits how often H264 is decoded.
	DecodeInterval time.Duration
	// ConnectTimeout bounds the wait for the first video track.
	ConnectTimeout time.Duration
}

// DefaultWebRTCConfig returns defaults for a Reachy Mini head camera.
func DefaultWebRTCConfig(robotIP string) WebRTCConfig {
	return WebRTCConfig{
		RobotIP:        robotIP,
		Producer:       "reachymini",
		Encoding:       frame.BGR8,
		DecodeInterval: 100 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
	}
}

// WebRTCCamera receives a robot's H264 video over WebRTC via GStreamer
// signalling and emits decoded frames.
type WebRTCCamera struct {
	cfg           WebRTCConfig
	signallingURL string
	logger        *slog.Logger

	ws      *websocket.Conn
	pc      *webrtc.PeerConnection
	wsMutex sync.Mutex

	myPeerID   string
	producerID string
	sessionID  string

	decoder    *H264Decoder
	frames     chan frame.Image
	trackReady chan struct{}

	framesDecoded atomic.Int64
	framesDropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewWebRTCCamera creates a camera; call Connect to start streaming.
func NewWebRTCCamera(cfg WebRTCConfig, logger *slog.Logger) *WebRTCCamera {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Encoding == "" {
		cfg.Encoding = frame.BGR8
	}
	if cfg.Producer == "" {
		cfg.Producer = "reachymini"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebRTCCamera{
		cfg:           cfg,
		signallingURL: fmt.Sprintf("ws://%s:8443", cfg.RobotIP),
		logger:        logger.With("component", "webrtc", "robot", cfg.RobotIP),
		decoder:       NewH264Decoder(cfg.Encoding, cfg.DecodeInterval),
		frames:        make(chan frame.Image, 1),
		trackReady:    make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Frames returns decoded frames. Only the latest frame is buffered.
func (c *WebRTCCamera) Frames() <-chan frame.Image {
	return c.frames
}

// Connect establishes the WebRTC session and waits for the video track.
func (c *WebRTCCamera) Connect(ctx context.Context) error {
	c.logger.Info("connecting to signalling server", "url", c.signallingURL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	var err error
	c.ws, _, err = dialer.DialContext(ctx, c.signallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect failed: %w", err)
	}

	if err := c.waitForWelcome(); err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	c.logger.Debug("got peer id", "peer_id", c.myPeerID)

	if err := c.findProducer(); err != nil {
		return fmt.Errorf("find producer failed: %w", err)
	}
	c.logger.Debug("found producer", "producer_id", c.producerID)

	if err := c.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}

	if err := c.startSession(); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	go c.handleSignalling()

	select {
	case <-c.trackReady:
		c.logger.Info("video connected")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ConnectTimeout):
		return fmt.Errorf("timeout waiting for video")
	}
	return nil
}

func (c *WebRTCCamera) waitForWelcome() error {
	c.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	c.myPeerID = welcome.PeerID
	return nil
}

func (c *WebRTCCamera) findProducer() error {
	if err := c.writeJSON(map[string]string{"type": "list"}); err != nil {
		return err
	}

	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var listResp struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := json.Unmarshal(msg, &listResp); err != nil {
		return err
	}

	for _, p := range listResp.Producers {
		if name, ok := p.Meta["name"]; ok && name == c.cfg.Producer {
			c.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("%s producer not found in %d producers", c.cfg.Producer, len(listResp.Producers))
}

func (c *WebRTCCamera) createPeerConnection() error {
	var err error
	c.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	// We only receive video
	if _, err = c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})

	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			c.sendICECandidate(candidate)
		}
	})

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state", "state", state.String())
	})

	return nil
}

func (c *WebRTCCamera) startSession() error {
	return c.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": c.producerID,
	})
}

func (c *WebRTCCamera) writeJSON(v interface{}) error {
	c.wsMutex.Lock()
	defer c.wsMutex.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *WebRTCCamera) handleSignalling() {
	for !c.closed.Load() {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("signalling error", "error", err)
			}
			return
		}

		var baseMsg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case "sessionStarted":
			c.wsMutex.Lock()
			c.sessionID = baseMsg.SessionID
			c.wsMutex.Unlock()

		case "peer":
			c.handlePeerMessage(msg)

		case "endSession":
			c.logger.Info("session ended by robot")
			return
		}
	}
}

// peerMessage is the payload of a "peer" signalling message.
type peerMessage struct {
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice"`
}

func (c *WebRTCCamera) handlePeerMessage(msg []byte) {
	var peer peerMessage
	if err := json.Unmarshal(msg, &peer); err != nil {
		c.logger.Debug("bad peer message", "error", err)
		return
	}

	if peer.SDP != nil && peer.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  peer.SDP.SDP,
		}
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Warn("SetRemoteDescription failed", "error", err)
			return
		}

		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Warn("CreateAnswer failed", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Warn("SetLocalDescription failed", "error", err)
			return
		}
		c.sendSDP(answer)
	}

	if peer.ICE != nil {
		mid := ""
		if peer.ICE.SDPMid != nil {
			mid = *peer.ICE.SDPMid
		}
		var idx uint16
		if peer.ICE.SDPMLineIndex != nil {
			idx = *peer.ICE.SDPMLineIndex
		}
		if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     peer.ICE.Candidate,
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		}); err != nil {
			c.logger.Debug("AddICECandidate failed", "error", err)
		}
	}
}

func (c *WebRTCCamera) sendSDP(sdp webrtc.SessionDescription) {
	c.wsMutex.Lock()
	defer c.wsMutex.Unlock()
	c.ws.WriteJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": c.sessionID,
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (c *WebRTCCamera) sendICECandidate(candidate *webrtc.ICECandidate) {
	c.wsMutex.Lock()
	defer c.wsMutex.Unlock()
	if c.sessionID == "" {
		return
	}

	init := candidate.ToJSON()
	c.ws.WriteJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": c.sessionID,
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (c *WebRTCCamera) handleVideoTrack(track *webrtc.TrackRemote) {
	// Signal that we got video
	select {
	case c.trackReady <- struct{}{}:
	default:
	}

	// Collect Annex-B access units and decode periodically
	var depacketizer codecs.H264Packet
	var annexB []byte

	for !c.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			continue
		}
		annexB = append(annexB, nal...)

		if !pkt.Marker || !c.decoder.Due() {
			continue
		}

		img, ok, err := c.decoder.Decode(c.ctx, annexB)
		annexB = annexB[:0]
		if err != nil {
			c.logger.Debug("h264 decode failed", "error", err)
			continue
		}
		if ok {
			c.emit(img)
		}
	}
}

// emit hands img to the consumer, replacing an unconsumed frame.
func (c *WebRTCCamera) emit(img frame.Image) {
	c.framesDecoded.Add(1)
	select {
	case c.frames <- img:
	default:
		select {
		case <-c.frames:
			c.framesDropped.Add(1)
		default:
		}
		select {
		case c.frames <- img:
		default:
		}
	}
}

// CameraStats contains camera statistics.
type CameraStats struct {
	FramesDecoded int64 `json:"frames_decoded"`
	FramesDropped int64 `json:"frames_dropped"`
}

// Stats returns camera statistics.
func (c *WebRTCCamera) Stats() CameraStats {
	return CameraStats{
		FramesDecoded: c.framesDecoded.Load(),
		FramesDropped: c.framesDropped.Load(),
	}
}

// Close closes the WebRTC connection.
func (c *WebRTCCamera) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	var err error
	if c.pc != nil {
		err = c.pc.Close()
	}
	if c.ws != nil {
		c.ws.Close()
	}
	return err
}
