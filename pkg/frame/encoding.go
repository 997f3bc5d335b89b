// Package frame provides the raw pixel buffers exchanged between camera
// topics, face detectors and the frame selector.
//
// An Image mirrors a robotics image message: a row-major byte buffer plus an
// encoding string that says how many channels each pixel carries and how each
// sample is stored.
package frame

import (
	"errors"
	"fmt"
)

// Supported encodings.
const (
	BGR8  = "bgr8"
	RGB8  = "rgb8"
	BGRA8 = "bgra8"
	RGBA8 = "rgba8"
	Mono8 = "mono8"
	// Mono16 is a single 16-bit channel, used by IR and depth cameras.
	Mono16 = "mono16"
	// Depth16 is the OpenCV name for a 16-bit single channel depth image.
	Depth16 = "16UC1"
	// DepthFloat is a 32-bit float depth image in meters.
	DepthFloat = "32FC1"
)

var (
	// ErrUnsupportedEncoding is returned for encodings this package can't read or convert.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")

	// ErrShape is returned when a buffer is too small for its declared geometry.
	ErrShape = errors.New("invalid image shape")
)

// SampleKind describes how a single channel sample is stored.
type SampleKind int

const (
	Uint8 SampleKind = iota
	Uint16
	Float32
)

// EncodingInfo describes the memory layout of an encoding.
type EncodingInfo struct {
	Name     string
	Channels int
	Kind     SampleKind
}

// BytesPerSample returns the size of one channel sample.
func (e EncodingInfo) BytesPerSample() int {
	switch e.Kind {
	case Uint16:
		return 2
	case Float32:
		return 4
	default:
		return 1
	}
}

// BytesPerPixel returns the size of one pixel.
func (e EncodingInfo) BytesPerPixel() int {
	return e.Channels * e.BytesPerSample()
}

// IsColor reports whether the encoding carries 3 or more color channels.
func (e EncodingInfo) IsColor() bool {
	return e.Channels >= 3
}

var encodings = map[string]EncodingInfo{
	BGR8:       {Name: BGR8, Channels: 3, Kind: Uint8},
	RGB8:       {Name: RGB8, Channels: 3, Kind: Uint8},
	BGRA8:      {Name: BGRA8, Channels: 4, Kind: Uint8},
	RGBA8:      {Name: RGBA8, Channels: 4, Kind: Uint8},
	Mono8:      {Name: Mono8, Channels: 1, Kind: Uint8},
	Mono16:     {Name: Mono16, Channels: 1, Kind: Uint16},
	Depth16:    {Name: Depth16, Channels: 1, Kind: Uint16},
	DepthFloat: {Name: DepthFloat, Channels: 1, Kind: Float32},
}

// LookupEncoding returns the layout of a named encoding.
func LookupEncoding(name string) (EncodingInfo, error) {
	info, ok := encodings[name]
	if !ok {
		return EncodingInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	return info, nil
}

// ValidEncoding reports whether name is a supported encoding.
func ValidEncoding(name string) bool {
	_, ok := encodings[name]
	return ok
}

// channel order of the 8-bit color encodings, as indices of R, G, B.
func rgbIndex(enc string) (r, g, b int) {
	switch enc {
	case BGR8, BGRA8:
		return 2, 1, 0
	default:
		return 0, 1, 2
	}
}
