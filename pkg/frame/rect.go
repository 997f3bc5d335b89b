package frame

import (
	"fmt"
	"image"
)

// Rect is an axis-aligned region in frame pixel coordinates.
// Bottom and Right are exclusive. Coordinates may lie outside the frame.
type Rect struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// R builds a Rect from top, bottom, left, right.
func R(top, bottom, left, right int) Rect {
	return Rect{Top: top, Bottom: bottom, Left: left, Right: right}
}

// FromImageRect converts a stdlib rectangle (Min inclusive, Max exclusive).
func FromImageRect(r image.Rectangle) Rect {
	return Rect{Top: r.Min.Y, Bottom: r.Max.Y, Left: r.Min.X, Right: r.Max.X}
}

// ImageRect converts to a stdlib rectangle.
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// Width returns Right-Left. It can be negative for inverted rects.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns Bottom-Top. It can be negative for inverted rects.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Area is computed from the raw coordinates, before any clamping.
func (r Rect) Area() int {
	return r.Height() * r.Width()
}

// Empty reports whether the rect covers no pixels.
func (r Rect) Empty() bool {
	return r.Top >= r.Bottom || r.Left >= r.Right
}

// Clamp restricts the rect to a height x width frame.
// The result may be empty; it is never normalised.
func (r Rect) Clamp(height, width int) Rect {
	return Rect{
		Top:    max(0, r.Top),
		Bottom: min(r.Bottom, height),
		Left:   max(0, r.Left),
		Right:  min(r.Right, width),
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("[t=%d b=%d l=%d r=%d]", r.Top, r.Bottom, r.Left, r.Right)
}
