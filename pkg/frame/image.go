package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Image is a row-major pixel buffer.
// Images are treated as immutable once built; every transform returns a copy.
type Image struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Encoding  string `json:"encoding"`
	BigEndian bool   `json:"is_bigendian"`
	Step      int    `json:"step"` // bytes per row
	Data      []byte `json:"-"`
}

// New allocates a zeroed image.
func New(width, height int, encoding string) (Image, error) {
	info, err := LookupEncoding(encoding)
	if err != nil {
		return Image{}, err
	}
	if width < 0 || height < 0 || width > MaxDimension || height > MaxDimension {
		return Image{}, fmt.Errorf("%w: %dx%d", ErrShape, width, height)
	}
	step := width * info.BytesPerPixel()
	return Image{
		Width:    width,
		Height:   height,
		Encoding: encoding,
		Step:     step,
		Data:     make([]byte, step*height),
	}, nil
}

// MustNew is New for encodings known to be valid. It panics on error.
func MustNew(width, height int, encoding string) Image {
	img, err := New(width, height, encoding)
	if err != nil {
		panic(err)
	}
	return img
}

// Info returns the encoding layout. Unknown encodings yield a zero EncodingInfo.
func (m Image) Info() EncodingInfo {
	info, _ := LookupEncoding(m.Encoding)
	return info
}

// Channels returns the number of channels per pixel.
func (m Image) Channels() int { return m.Info().Channels }

// Empty reports whether the image has no pixels.
func (m Image) Empty() bool { return m.Width <= 0 || m.Height <= 0 }

// Bounds returns the full-frame rect.
func (m Image) Bounds() Rect { return Rect{Top: 0, Bottom: m.Height, Left: 0, Right: m.Width} }

// MaxDimension bounds the width and height of an image.
const MaxDimension = 1 << 16

// Validate checks the buffer against its declared geometry.
func (m Image) Validate() error {
	info, err := LookupEncoding(m.Encoding)
	if err != nil {
		return err
	}
	if m.Width < 0 || m.Height < 0 || m.Width > MaxDimension || m.Height > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrShape, m.Width, m.Height)
	}
	// Width and Height are bounded, so only Step can overflow Step*Height
	if m.Step < 0 || (m.Height > 0 && m.Step > math.MaxInt/m.Height) {
		return fmt.Errorf("%w: step %d", ErrShape, m.Step)
	}
	if m.Step < m.Width*info.BytesPerPixel() {
		return fmt.Errorf("%w: step %d < %d", ErrShape, m.Step, m.Width*info.BytesPerPixel())
	}
	if len(m.Data) < m.Step*m.Height {
		return fmt.Errorf("%w: %d bytes for %d rows of %d", ErrShape, len(m.Data), m.Height, m.Step)
	}
	return nil
}

func (m Image) byteOrder() binary.ByteOrder {
	if m.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (m Image) offset(x, y, c int, info EncodingInfo) int {
	return y*m.Step + x*info.BytesPerPixel() + c*info.BytesPerSample()
}

// At returns channel c of pixel (x, y) as a float64.
func (m Image) At(x, y, c int) float64 {
	info := m.Info()
	return m.at(x, y, c, info)
}

func (m Image) at(x, y, c int, info EncodingInfo) float64 {
	off := m.offset(x, y, c, info)
	switch info.Kind {
	case Uint16:
		return float64(m.byteOrder().Uint16(m.Data[off:]))
	case Float32:
		return float64(math.Float32frombits(m.byteOrder().Uint32(m.Data[off:])))
	default:
		return float64(m.Data[off])
	}
}

// set writes channel c of pixel (x, y), saturating to the sample range.
func (m Image) set(x, y, c int, v float64, info EncodingInfo) {
	off := m.offset(x, y, c, info)
	switch info.Kind {
	case Uint16:
		m.byteOrder().PutUint16(m.Data[off:], uint16(saturate(v, math.MaxUint16)))
	case Float32:
		m.byteOrder().PutUint32(m.Data[off:], math.Float32bits(float32(v)))
	default:
		m.Data[off] = uint8(saturate(v, math.MaxUint8))
	}
}

func saturate(v, hi float64) float64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return math.Round(v)
}

// Clone returns a deep copy with a tightly packed buffer.
func (m Image) Clone() Image {
	return m.Crop(m.Bounds())
}

// Crop copies the region r out of the image. r is clamped to the image
// bounds first; a region that clamps to nothing yields an empty image of the
// same encoding.
func (m Image) Crop(r Rect) Image {
	info := m.Info()
	c := r.Clamp(m.Height, m.Width)
	w := max(0, c.Width())
	h := max(0, c.Height())
	bpp := info.BytesPerPixel()

	out := Image{
		Width:     w,
		Height:    h,
		Encoding:  m.Encoding,
		BigEndian: m.BigEndian,
		Step:      w * bpp,
		Data:      make([]byte, w*h*bpp),
	}
	if w == 0 || h == 0 {
		return out
	}
	for y := 0; y < h; y++ {
		src := (c.Top+y)*m.Step + c.Left*bpp
		copy(out.Data[y*out.Step:(y+1)*out.Step], m.Data[src:src+out.Step])
	}
	return out
}

// Mean returns the per-channel mean sample value.
// An empty image has a mean of zero on every channel.
func (m Image) Mean() []float64 {
	info := m.Info()
	sums := make([]float64, info.Channels)
	if m.Empty() {
		return sums
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			for c := 0; c < info.Channels; c++ {
				sums[c] += m.at(x, y, c, info)
			}
		}
	}
	n := float64(m.Width * m.Height)
	for c := range sums {
		sums[c] /= n
	}
	return sums
}

// Rotate90 rotates the image counter-clockwise by k quarter turns.
// Negative k rotates clockwise.
func (m Image) Rotate90(k int) Image {
	k = ((k % 4) + 4) % 4
	if k == 0 {
		return m.Clone()
	}

	info := m.Info()
	bpp := info.BytesPerPixel()
	w, h := m.Width, m.Height
	if k%2 == 1 {
		w, h = h, w
	}
	out := Image{
		Width:     w,
		Height:    h,
		Encoding:  m.Encoding,
		BigEndian: m.BigEndian,
		Step:      w * bpp,
		Data:      make([]byte, w*h*bpp),
	}

	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var sy, sx int
			switch k {
			case 1:
				sy, sx = c, m.Width-1-r
			case 2:
				sy, sx = m.Height-1-r, m.Width-1-c
			case 3:
				sy, sx = m.Height-1-c, r
			}
			src := sy*m.Step + sx*bpp
			dst := r*out.Step + c*bpp
			copy(out.Data[dst:dst+bpp], m.Data[src:src+bpp])
		}
	}
	return out
}
