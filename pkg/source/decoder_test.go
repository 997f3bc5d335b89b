package source

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-facenode/pkg/frame"
	"github.com/teslashibe/go-facenode/pkg/protocol"
)

func TestNewDecoder(t *testing.T) {
	if _, err := NewDecoder(frame.BGR8, 3); err != nil {
		t.Errorf("NewDecoder(bgr8) error = %v", err)
	}
	if _, err := NewDecoder("yuv422", 0); !errors.Is(err, frame.ErrUnsupportedEncoding) {
		t.Errorf("NewDecoder(yuv422) error = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestDecodeRaw(t *testing.T) {
	src := frame.MustNew(4, 2, frame.BGR8)
	for i := range src.Data {
		src.Data[i] = byte(i)
	}
	data := protocol.ImageDataFromFrame(src, "", 0)

	d := &Decoder{Encoding: frame.BGR8}
	img, err := d.Decode(&data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Width != 4 || img.Height != 2 {
		t.Errorf("size = %dx%d, want 4x2", img.Width, img.Height)
	}
	for i := range src.Data {
		if img.Data[i] != src.Data[i] {
			t.Fatalf("pixel byte %d = %d, want %d", i, img.Data[i], src.Data[i])
		}
	}
}

func TestDecodeRotates(t *testing.T) {
	// Three quarter turns, the default rotation_cycles.
	src := frame.MustNew(3, 2, frame.Mono8)
	for i := range src.Data {
		src.Data[i] = byte(i)
	}
	data := protocol.ImageDataFromFrame(src, "", 0)

	d := &Decoder{Encoding: frame.Mono8, Rotations: 3}
	img, err := d.Decode(&data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Width != 2 || img.Height != 3 {
		t.Fatalf("size = %dx%d, want 2x3", img.Width, img.Height)
	}
	want := []byte{3, 0, 4, 1, 5, 2}
	for i, v := range want {
		if img.Data[i] != v {
			t.Fatalf("got %v, want %v", img.Data, want)
		}
	}
}

func TestDecodeConverts(t *testing.T) {
	src := frame.MustNew(1, 1, frame.RGB8)
	copy(src.Data, []byte{1, 2, 3})
	data := protocol.ImageDataFromFrame(src, "", 0)

	d := &Decoder{Encoding: frame.BGR8}
	img, err := d.Decode(&data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Encoding != frame.BGR8 {
		t.Errorf("Encoding = %v, want bgr8", img.Encoding)
	}
	if img.Data[0] != 3 || img.Data[2] != 1 {
		t.Errorf("channels not swapped: %v", img.Data)
	}
}

func TestDecodeJPEG(t *testing.T) {
	src := frame.MustNew(16, 8, frame.BGR8)
	data, err := protocol.JPEGImageDataFromFrame(src, 90, "", 0)
	if err != nil {
		t.Fatalf("JPEGImageDataFromFrame() error = %v", err)
	}

	d := &Decoder{Encoding: frame.Mono8}
	img, err := d.Decode(&data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Encoding != frame.Mono8 || img.Width != 16 || img.Height != 8 {
		t.Errorf("got %s %dx%d", img.Encoding, img.Width, img.Height)
	}
}

func TestDecodeErrors(t *testing.T) {
	short := protocol.ImageDataFromFrame(frame.MustNew(4, 4, frame.BGR8), "", 0)
	short.Height = 40

	mono16 := protocol.ImageDataFromFrame(frame.MustNew(2, 2, frame.Mono16), "", 0)

	tests := []struct {
		name string
		data *protocol.ImageData
		enc  string
	}{
		{"nil payload", nil, frame.BGR8},
		{"bad base64", &protocol.ImageData{Format: protocol.FormatRaw, Data: "!!!"}, frame.BGR8},
		{"short buffer", &short, frame.BGR8},
		{"unknown encoding", &protocol.ImageData{Width: 1, Height: 1, Encoding: "yuv422", Format: protocol.FormatRaw}, frame.BGR8},
		{"unknown format", &protocol.ImageData{Format: "png"}, frame.BGR8},
		{"bad jpeg", &protocol.ImageData{Format: protocol.FormatJPEG, Data: "AAAA"}, frame.BGR8},
		{"unsupported conversion", &mono16, frame.BGR8},
		{"huge dimensions", &protocol.ImageData{Width: 1 << 31, Height: 1 << 33, Encoding: frame.BGR8, Step: 3 << 31, Format: protocol.FormatRaw}, frame.BGR8},
		{"huge width default step", &protocol.ImageData{Width: 1 << 40, Height: 1, Encoding: frame.BGR8, Format: protocol.FormatRaw}, frame.BGR8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Decoder{Encoding: tt.enc}
			if _, err := d.Decode(tt.data); !errors.Is(err, ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestDecodeMessageWrongType(t *testing.T) {
	msg, _ := protocol.NewBoolMessage(true)
	d := &Decoder{Encoding: frame.BGR8}
	if _, err := d.DecodeMessage(msg); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodeMessage() error = %v, want ErrDecode", err)
	}
}
