package frame

import "image/color"

// Green is the outline color used for detected faces.
var Green = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// DrawRect returns a copy of img with the outline of r drawn in col.
// The outline grows inward from r by thickness pixels and is clipped to the
// image. Single channel images get the luminance of col.
func DrawRect(img Image, r Rect, col color.RGBA, thickness int) Image {
	out := img.Clone()
	if out.Empty() || thickness <= 0 {
		return out
	}
	info := out.Info()

	for t := 0; t < thickness; t++ {
		for x := r.Left; x < r.Right; x++ {
			out.paint(x, r.Top+t, col, info)
			out.paint(x, r.Bottom-1-t, col, info)
		}
		for y := r.Top; y < r.Bottom; y++ {
			out.paint(r.Left+t, y, col, info)
			out.paint(r.Right-1-t, y, col, info)
		}
	}
	return out
}

func (m Image) paint(x, y int, col color.RGBA, info EncodingInfo) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	if info.Channels < 3 {
		v := luma(float64(col.R), float64(col.G), float64(col.B))
		if info.Kind == Uint16 {
			v *= 256
		}
		m.set(x, y, 0, v, info)
		return
	}
	ri, gi, bi := rgbIndex(m.Encoding)
	m.set(x, y, ri, float64(col.R), info)
	m.set(x, y, gi, float64(col.G), info)
	m.set(x, y, bi, float64(col.B), info)
	if info.Channels == 4 {
		m.set(x, y, 3, float64(col.A), info)
	}
}
