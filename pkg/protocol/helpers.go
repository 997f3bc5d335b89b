package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/teslashibe/go-facenode/pkg/frame"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// ImageDataFromFrame packs a frame as a raw image payload
func ImageDataFromFrame(img frame.Image, frameID string, stamp int64) ImageData {
	return ImageData{
		Width:     img.Width,
		Height:    img.Height,
		Encoding:  img.Encoding,
		BigEndian: img.BigEndian,
		Step:      img.Step,
		Format:    FormatRaw,
		Data:      base64.StdEncoding.EncodeToString(img.Data),
		FrameID:   frameID,
		Stamp:     stamp,
	}
}

// JPEGImageDataFromFrame packs a frame as a JPEG payload.
// The receiver decodes it back to the declared encoding.
func JPEGImageDataFromFrame(img frame.Image, quality int, frameID string, stamp int64) (ImageData, error) {
	jpeg, err := img.EncodeJPEG(quality)
	if err != nil {
		return ImageData{}, err
	}
	return ImageData{
		Width:    img.Width,
		Height:   img.Height,
		Encoding: img.Encoding,
		Format:   FormatJPEG,
		Data:     base64.StdEncoding.EncodeToString(jpeg),
		FrameID:  frameID,
		Stamp:    stamp,
	}, nil
}

// NewImageMessage creates an image message from a raw frame
func NewImageMessage(img frame.Image, frameID string, stamp int64) (*Message, error) {
	return NewMessage(TypeImage, ImageDataFromFrame(img, frameID, stamp))
}

// NewJPEGImageMessage creates an image message from JPEG data
func NewJPEGImageMessage(width, height int, encoding string, jpegData []byte, frameID string) (*Message, error) {
	return NewMessage(TypeImage, ImageData{
		Width:    width,
		Height:   height,
		Encoding: encoding,
		Format:   FormatJPEG,
		Data:     base64.StdEncoding.EncodeToString(jpegData),
		FrameID:  frameID,
	})
}

// NewFacesMessage creates a faces message.
// depths must be nil or index-aligned with faces.
func NewFacesMessage(faces []frame.Image, depths []frame.Image, frameID string, stamp int64) (*Message, error) {
	if depths != nil && len(depths) != len(faces) {
		return nil, fmt.Errorf("faces message: %d depth crops for %d faces", len(depths), len(faces))
	}
	data := FacesData{
		FacesImages:      make([]ImageData, 0, len(faces)),
		FacesDepthImages: make([]ImageData, 0, len(depths)),
	}
	for _, f := range faces {
		data.FacesImages = append(data.FacesImages, ImageDataFromFrame(f, frameID, stamp))
	}
	for _, d := range depths {
		data.FacesDepthImages = append(data.FacesDepthImages, ImageDataFromFrame(d, frameID, stamp))
	}
	return NewMessage(TypeFaces, data)
}

// NewBoolMessage creates a boolean signal message
func NewBoolMessage(v bool) (*Message, error) {
	return NewMessage(TypeBool, BoolData{Data: v})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// NewErrorMessage creates an error report
func NewErrorMessage(msg string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: msg})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetImageData extracts image data from a message
func (m *Message) GetImageData() (*ImageData, error) {
	if m.Type != TypeImage {
		return nil, fmt.Errorf("expected %s message, got %q", TypeImage, m.Type)
	}
	var data ImageData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeImageData decodes the base64 image data
func (d *ImageData) DecodeImageData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Data)
}

// GetFacesData extracts faces data from a message
func (m *Message) GetFacesData() (*FacesData, error) {
	var data FacesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetBoolData extracts a boolean signal from a message
func (m *Message) GetBoolData() (*BoolData, error) {
	var data BoolData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts an error report from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
