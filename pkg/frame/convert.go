package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Convert returns the image re-encoded as enc.
//
// Conversions are supported between the 8-bit color encodings and mono8, and
// between the 16-bit single channel encodings. mono16 converts to mono8 by
// dropping the low byte. Float depth images can't be converted.
func (m Image) Convert(enc string) (Image, error) {
	if enc == m.Encoding {
		return m.Clone(), nil
	}
	src, err := LookupEncoding(m.Encoding)
	if err != nil {
		return Image{}, err
	}
	dst, err := LookupEncoding(enc)
	if err != nil {
		return Image{}, err
	}
	if src.Kind == Float32 || dst.Kind == Float32 {
		return Image{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedEncoding, m.Encoding, enc)
	}
	if src.Kind == Uint16 && dst.Kind == Uint16 {
		out := m.Clone()
		out.Encoding = enc
		return out, nil
	}
	if src.Kind == Uint16 && dst.IsColor() {
		return Image{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedEncoding, m.Encoding, enc)
	}

	out, err := New(m.Width, m.Height, enc)
	if err != nil {
		return Image{}, err
	}
	ri, gi, bi := rgbIndex(enc)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, g, b, a := m.rgba8(x, y, src)
			switch {
			case dst.Kind == Uint16:
				out.set(x, y, 0, luma(r, g, b)*256, dst)
			case dst.Channels == 1:
				out.set(x, y, 0, luma(r, g, b), dst)
			default:
				out.set(x, y, ri, r, dst)
				out.set(x, y, gi, g, dst)
				out.set(x, y, bi, b, dst)
				if dst.Channels == 4 {
					out.set(x, y, 3, a, dst)
				}
			}
		}
	}
	return out, nil
}

// rgba8 reads pixel (x, y) as 8-bit scaled RGBA.
func (m Image) rgba8(x, y int, info EncodingInfo) (r, g, b, a float64) {
	if info.Channels < 3 {
		v := m.at(x, y, 0, info)
		if info.Kind == Uint16 {
			v = math.Floor(v / 256)
		}
		return v, v, v, 255
	}
	ri, gi, bi := rgbIndex(m.Encoding)
	r = m.at(x, y, ri, info)
	g = m.at(x, y, gi, info)
	b = m.at(x, y, bi, info)
	a = 255
	if info.Channels == 4 {
		a = m.at(x, y, 3, info)
	}
	return r, g, b, a
}

func luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// Gray8 returns a tightly packed 8-bit luminance view of the image, suitable
// as detector input. 16-bit and float samples are min-max normalised.
func (m Image) Gray8() []uint8 {
	info := m.Info()
	out := make([]uint8, m.Width*m.Height)
	if m.Empty() {
		return out
	}

	if info.Kind == Uint8 {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				r, g, b, _ := m.rgba8(x, y, info)
				out[y*m.Width+x] = uint8(saturate(luma(r, g, b), math.MaxUint8))
			}
		}
		return out
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.at(x, y, 0, info)
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.at(x, y, 0, info)
			if math.IsNaN(v) {
				continue
			}
			out[y*m.Width+x] = uint8(saturate((v-lo)*scale, math.MaxUint8))
		}
	}
	return out
}

// BGR8 returns the image as 3-channel bgr8, the layout OpenCV expects.
func (m Image) BGR8() (Image, error) {
	if m.Info().Kind == Uint8 {
		return m.Convert(BGR8)
	}
	gray := Image{
		Width:    m.Width,
		Height:   m.Height,
		Encoding: Mono8,
		Step:     m.Width,
		Data:     m.Gray8(),
	}
	return gray.Convert(BGR8)
}

// ToGoImage converts the image to a stdlib image for encoding or drawing.
func (m Image) ToGoImage() (image.Image, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	info := m.Info()
	rect := image.Rect(0, 0, m.Width, m.Height)

	switch {
	case info.Kind == Uint16:
		out := image.NewGray16(rect)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				out.SetGray16(x, y, color.Gray16{Y: uint16(m.at(x, y, 0, info))})
			}
		}
		return out, nil
	case info.Kind == Float32 || info.Channels == 1:
		out := image.NewGray(rect)
		copy(out.Pix, m.Gray8())
		return out, nil
	default:
		out := image.NewNRGBA(rect)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				r, g, b, a := m.rgba8(x, y, info)
				out.SetNRGBA(x, y, color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)})
			}
		}
		return out, nil
	}
}

// FromGoImage builds an Image with the given encoding from a stdlib image.
func FromGoImage(src image.Image, enc string) (Image, error) {
	info, err := LookupEncoding(enc)
	if err != nil {
		return Image{}, err
	}
	b := src.Bounds()

	if info.Kind == Uint16 {
		out, _ := New(b.Dx(), b.Dy(), enc)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				g := color.Gray16Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				out.set(x, y, 0, float64(g.Y), info)
			}
		}
		return out, nil
	}

	nrgba := imaging.Clone(src)
	rgba := Image{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Encoding: RGBA8,
		Step:     nrgba.Stride,
		Data:     nrgba.Pix,
	}
	return rgba.Convert(enc)
}

// Decode decodes a compressed image (JPEG, PNG, ...) into the given encoding.
func Decode(data []byte, enc string) (Image, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	return FromGoImage(src, enc)
}

// EncodeJPEG compresses the image as JPEG.
func (m Image) EncodeJPEG(quality int) ([]byte, error) {
	img, err := m.ToGoImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
