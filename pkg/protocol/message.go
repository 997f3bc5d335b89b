// Package protocol defines the WebSocket message types exchanged on the
// face node's message bus.
// Image payloads mirror sensor_msgs/Image so frames can be bridged to and
// from a robot without re-encoding.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Data messages
	TypeImage MessageType = "image" // Single camera frame
	TypeFaces MessageType = "faces" // Cropped face regions
	TypeBool  MessageType = "bool"  // Boolean signal

	// Control messages
	TypePing  MessageType = "ping"  // Health check
	TypePong  MessageType = "pong"  // Health check response
	TypeError MessageType = "error" // Server-side failure report
)

// Image payload formats
const (
	FormatRaw  = "raw"  // pixel buffer as described by the image fields
	FormatJPEG = "jpeg" // compressed, decoded to the declared encoding
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`    // Unix milliseconds
	Topic     string          `json:"topic,omitempty"` // Set by the bus on delivery
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// WithTopic returns a shallow copy of the message addressed to topic.
func (m *Message) WithTopic(topic string) *Message {
	c := *m
	c.Topic = topic
	return &c
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Data Message Types
// =============================================================================

// ImageData contains one camera frame
type ImageData struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Encoding  string `json:"encoding"` // "bgr8", "mono16", "16UC1", ...
	BigEndian bool   `json:"is_bigendian,omitempty"`
	Step      int    `json:"step,omitempty"` // bytes per row, raw format only
	Format    string `json:"format"`         // "raw", "jpeg"
	Data      string `json:"data"`           // base64 encoded
	FrameID   string `json:"frame_id,omitempty"`
	Stamp     int64  `json:"stamp,omitempty"` // capture time, Unix milliseconds
}

// FacesData contains the face crops selected in one detection cycle.
// FacesDepthImages is empty unless depth mode is enabled, in which case it
// is index-aligned with FacesImages.
type FacesData struct {
	FacesImages      []ImageData `json:"faces_images"`
	FacesDepthImages []ImageData `json:"faces_depth_images"`
}

// BoolData contains a single flag
type BoolData struct {
	Data bool `json:"data"`
}

// =============================================================================
// Control Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

// ErrorData describes a request the server could not handle
type ErrorData struct {
	Message string `json:"message"`
}
