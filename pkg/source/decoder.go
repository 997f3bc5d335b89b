// Package source turns camera input into frames ready for detection.
package source

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-facenode/pkg/frame"
	"github.com/teslashibe/go-facenode/pkg/protocol"
)

// ErrDecode wraps every failure to turn an image message into a frame.
var ErrDecode = errors.New("image decode failed")

// Decoder converts image payloads into frames with a fixed encoding and
// orientation.
type Decoder struct {
	// Encoding is the encoding frames are converted to.
	Encoding string
	// Rotations is the number of counter-clockwise quarter turns applied
	// after conversion.
	Rotations int
}

// NewDecoder returns a Decoder for the given target encoding.
func NewDecoder(encoding string, rotations int) (*Decoder, error) {
	if !frame.ValidEncoding(encoding) {
		return nil, fmt.Errorf("%w: %q", frame.ErrUnsupportedEncoding, encoding)
	}
	return &Decoder{Encoding: encoding, Rotations: rotations}, nil
}

// Decode converts one image payload.
func (d *Decoder) Decode(data *protocol.ImageData) (frame.Image, error) {
	if data == nil {
		return frame.Image{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	raw, err := data.DecodeImageData()
	if err != nil {
		return frame.Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var img frame.Image
	switch data.Format {
	case protocol.FormatRaw, "":
		img = frame.Image{
			Width:     data.Width,
			Height:    data.Height,
			Encoding:  data.Encoding,
			BigEndian: data.BigEndian,
			Step:      data.Step,
			Data:      raw,
		}
		if img.Step == 0 {
			img.Step = img.Width * img.Info().BytesPerPixel()
		}
		if err := img.Validate(); err != nil {
			return frame.Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}

	case protocol.FormatJPEG:
		enc := data.Encoding
		if enc == "" {
			enc = d.Encoding
		}
		img, err = frame.Decode(raw, enc)
		if err != nil {
			return frame.Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}

	default:
		return frame.Image{}, fmt.Errorf("%w: unknown format %q", ErrDecode, data.Format)
	}

	return d.Prepare(img)
}

// DecodeMessage converts an image message.
func (d *Decoder) DecodeMessage(msg *protocol.Message) (frame.Image, error) {
	data, err := msg.GetImageData()
	if err != nil {
		return frame.Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return d.Decode(data)
}

// Prepare converts an already decoded frame to the target encoding and
// applies the rotation.
func (d *Decoder) Prepare(img frame.Image) (frame.Image, error) {
	out, err := img.Convert(d.Encoding)
	if err != nil {
		return frame.Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if d.Rotations%4 != 0 {
		out = out.Rotate90(d.Rotations)
	}
	return out, nil
}
