package selector

import (
	"math/rand"
	"testing"

	"github.com/teslashibe/go-facenode/pkg/frame"
)

func colorFrame(w, h int) frame.Image {
	img := frame.MustNew(w, h, frame.BGR8)
	for i := range img.Data {
		img.Data[i] = uint8(i)
	}
	return img
}

// depthFrame returns a mono16 frame filled with fill, with each region in
// regions set to its own value.
func depthFrame(w, h int, fill uint16, regions map[frame.Rect]uint16) *frame.Image {
	img := frame.MustNew(w, h, frame.Mono16)
	put := func(x, y int, v uint16) {
		off := y*img.Step + x*2
		img.Data[off] = byte(v)
		img.Data[off+1] = byte(v >> 8)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			put(x, y, fill)
		}
	}
	for r, v := range regions {
		c := r.Clamp(h, w)
		for y := c.Top; y < c.Bottom; y++ {
			for x := c.Left; x < c.Right; x++ {
				put(x, y, v)
			}
		}
	}
	return &img
}

func TestSelect_Examples(t *testing.T) {
	color := colorFrame(100, 100)
	big := frame.R(0, 50, 0, 50)
	small := frame.R(10, 20, 10, 20)

	tests := []struct {
		name      string
		rects     []frame.Rect
		cfg       Config
		wantRects []frame.Rect
		wantAny   bool
	}{
		{
			name:      "largest wins",
			rects:     []frame.Rect{big, small},
			cfg:       Config{},
			wantRects: []frame.Rect{big},
			wantAny:   true,
		},
		{
			name:      "largest wins when last",
			rects:     []frame.Rect{small, big},
			cfg:       Config{},
			wantRects: []frame.Rect{big},
			wantAny:   true,
		},
		{
			name:      "min area filters small rect",
			rects:     []frame.Rect{big, small},
			cfg:       Config{MinArea: 200},
			wantRects: []frame.Rect{big},
			wantAny:   true,
		},
		{
			name:      "min area boundary keeps equal area",
			rects:     []frame.Rect{small},
			cfg:       Config{MinArea: 100},
			wantRects: []frame.Rect{small},
			wantAny:   true,
		},
		{
			name:    "all filtered still reports detection",
			rects:   []frame.Rect{big, small},
			cfg:     Config{MinArea: 5000},
			wantAny: true,
		},
		{
			name:    "no rects single",
			rects:   nil,
			cfg:     Config{},
			wantAny: false,
		},
		{
			name:    "no rects multiple",
			rects:   []frame.Rect{},
			cfg:     Config{MultipleDetection: true},
			wantAny: false,
		},
		{
			name:      "multiple keeps input order",
			rects:     []frame.Rect{small, big, small},
			cfg:       Config{MultipleDetection: true},
			wantRects: []frame.Rect{small, big, small},
			wantAny:   true,
		},
		{
			name:      "multiple with min area",
			rects:     []frame.Rect{small, big, small},
			cfg:       Config{MultipleDetection: true, MinArea: 101},
			wantRects: []frame.Rect{big},
			wantAny:   true,
		},
		{
			name:      "out of bounds rect is clamped",
			rects:     []frame.Rect{frame.R(-10, 5, -10, 5)},
			cfg:       Config{},
			wantRects: []frame.Rect{frame.R(0, 5, 0, 5)},
			wantAny:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Select(color, nil, tc.rects, tc.cfg)
			if res.AnyDetected != tc.wantAny {
				t.Errorf("AnyDetected: got %v, want %v", res.AnyDetected, tc.wantAny)
			}
			if len(res.Faces) != len(tc.wantRects) {
				t.Fatalf("faces: got %d, want %d", len(res.Faces), len(tc.wantRects))
			}
			for i, f := range res.Faces {
				if f.Rect != tc.wantRects[i] {
					t.Errorf("face %d: got %v, want %v", i, f.Rect, tc.wantRects[i])
				}
				if f.Color.Width != f.Rect.Width() || f.Color.Height != f.Rect.Height() {
					t.Errorf("face %d: crop %dx%d does not match %v", i, f.Color.Width, f.Color.Height, f.Rect)
				}
				if f.Depth != nil {
					t.Errorf("face %d: unexpected depth crop", i)
				}
			}
		})
	}
}

func TestSelect_TieKeepsEarlier(t *testing.T) {
	color := colorFrame(100, 100)
	first := frame.R(0, 10, 0, 10)
	second := frame.R(50, 60, 50, 60)

	res := Select(color, nil, []frame.Rect{first, second}, Config{})
	if len(res.Faces) != 1 || res.Faces[0].Rect != first {
		t.Fatalf("got %+v, want first rect", res.Faces)
	}
}

func TestSelect_CropContent(t *testing.T) {
	color := colorFrame(10, 10)
	res := Select(color, nil, []frame.Rect{frame.R(1, 3, 2, 4)}, Config{})
	if len(res.Faces) != 1 {
		t.Fatalf("got %d faces", len(res.Faces))
	}
	crop := res.Faces[0].Color
	for y := 0; y < crop.Height; y++ {
		for x := 0; x < crop.Width; x++ {
			for c := 0; c < 3; c++ {
				if crop.At(x, y, c) != color.At(x+2, y+1, c) {
					t.Fatalf("pixel (%d,%d,%d) mismatch", x, y, c)
				}
			}
		}
	}

	orig := color.At(2, 1, 0)
	crop.Data[0] ^= 0xff
	if color.At(2, 1, 0) != orig {
		t.Error("crop aliases input frame")
	}
}

func TestSelect_EmptyClampedCrop(t *testing.T) {
	color := colorFrame(100, 100)
	rects := []frame.Rect{frame.R(-30, -5, 10, 20)}

	res := Select(color, depthFrame(100, 100, 0, nil), rects, Config{MultipleDetection: true, DepthCamera: true})
	if len(res.Faces) != 1 {
		t.Fatalf("got %d faces, want 1", len(res.Faces))
	}
	f := res.Faces[0]
	if !f.Color.Empty() {
		t.Errorf("color crop should be empty, got %dx%d", f.Color.Width, f.Color.Height)
	}
	if f.Depth == nil || !f.Depth.Empty() {
		t.Error("depth crop should be present and empty")
	}
}

func TestSelect_DepthClosestWins(t *testing.T) {
	color := colorFrame(100, 100)
	a := frame.R(0, 60, 0, 60)   // large but far
	b := frame.R(70, 80, 70, 80) // small but near
	depth := depthFrame(100, 100, 500, map[frame.Rect]uint16{a: 120, b: 80})

	res := Select(color, depth, []frame.Rect{a, b}, Config{DepthCamera: true})
	if len(res.Faces) != 1 {
		t.Fatalf("got %d faces, want 1", len(res.Faces))
	}
	f := res.Faces[0]
	if f.Rect != b {
		t.Errorf("winner: got %v, want %v", f.Rect, b)
	}
	if f.Depth == nil {
		t.Fatal("depth crop missing")
	}
	if f.Depth.Width != f.Color.Width || f.Depth.Height != f.Color.Height {
		t.Errorf("depth crop %dx%d differs from color crop %dx%d",
			f.Depth.Width, f.Depth.Height, f.Color.Width, f.Color.Height)
	}
	if m := f.Depth.Mean()[0]; m != 80 {
		t.Errorf("depth mean: got %v, want 80", m)
	}
}

func TestSelect_DepthTieKeepsEarlier(t *testing.T) {
	color := colorFrame(100, 100)
	a := frame.R(0, 10, 0, 10)
	b := frame.R(20, 60, 20, 60)
	depth := depthFrame(100, 100, 100, nil)

	res := Select(color, depth, []frame.Rect{a, b}, Config{DepthCamera: true})
	if len(res.Faces) != 1 || res.Faces[0].Rect != a {
		t.Fatalf("got %+v, want first rect", res.Faces)
	}
}

func TestSelect_DepthIncremental(t *testing.T) {
	color := colorFrame(100, 100)
	a := frame.R(0, 10, 0, 10)
	b := frame.R(20, 30, 20, 30)
	c := frame.R(40, 50, 40, 50)
	depth := depthFrame(100, 100, 1000, map[frame.Rect]uint16{a: 300, b: 200, c: 250})

	res := Select(color, depth, []frame.Rect{a, b, c}, Config{DepthCamera: true})
	if len(res.Faces) != 1 || res.Faces[0].Rect != b {
		t.Fatalf("got %+v, want %v", res.Faces, b)
	}
}

// bgrDepthFrame returns a zeroed bgr8 frame with each region set to its own
// per-channel value.
func bgrDepthFrame(w, h int, regions map[frame.Rect][3]uint8) *frame.Image {
	img := frame.MustNew(w, h, frame.BGR8)
	for r, v := range regions {
		c := r.Clamp(h, w)
		for y := c.Top; y < c.Bottom; y++ {
			for x := c.Left; x < c.Right; x++ {
				copy(img.Data[y*img.Step+x*3:], v[:])
			}
		}
	}
	return &img
}

func TestSelect_DepthMultiChannel(t *testing.T) {
	color := colorFrame(100, 100)
	a := frame.R(0, 10, 0, 10)
	b := frame.R(20, 30, 20, 30)

	tests := []struct {
		name string
		a, b [3]uint8
		want frame.Rect
	}{
		{"channel 1 breaks a channel 0 tie", [3]uint8{10, 50, 0}, [3]uint8{10, 40, 0}, b},
		{"channel 0 decides over a lower channel 1", [3]uint8{20, 200, 0}, [3]uint8{30, 10, 0}, a},
		{"later rect wins on channel 0", [3]uint8{30, 10, 0}, [3]uint8{20, 200, 0}, b},
		{"equal means keep the earlier rect", [3]uint8{5, 5, 5}, [3]uint8{5, 5, 5}, a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			depth := bgrDepthFrame(100, 100, map[frame.Rect][3]uint8{a: tt.a, b: tt.b})
			res := Select(color, depth, []frame.Rect{a, b}, Config{DepthCamera: true})
			if len(res.Faces) != 1 {
				t.Fatalf("got %d faces, want 1", len(res.Faces))
			}
			if got := res.Faces[0].Rect; got != tt.want {
				t.Errorf("winner: got %v, want %v", got, tt.want)
			}
			if res.Faces[0].Depth == nil || res.Faces[0].Depth.Encoding != frame.BGR8 {
				t.Errorf("depth crop should keep the bgr8 encoding")
			}
		})
	}
}

func TestSelect_DepthMultiple(t *testing.T) {
	color := colorFrame(100, 100)
	rects := []frame.Rect{frame.R(0, 10, 0, 10), frame.R(90, 120, 90, 120)}
	depth := depthFrame(100, 100, 7, nil)

	res := Select(color, depth, rects, Config{MultipleDetection: true, DepthCamera: true})
	if len(res.Faces) != 2 {
		t.Fatalf("got %d faces, want 2", len(res.Faces))
	}
	for i, f := range res.Faces {
		if f.Depth == nil {
			t.Fatalf("face %d: missing depth crop", i)
		}
		if f.Depth.Width != f.Color.Width || f.Depth.Height != f.Color.Height {
			t.Errorf("face %d: depth and color crops differ", i)
		}
	}
	if res.Faces[1].Rect != frame.R(90, 100, 90, 100) {
		t.Errorf("second rect not clamped: %v", res.Faces[1].Rect)
	}
}

func TestSelect_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	color := colorFrame(64, 48)

	randRect := func() frame.Rect {
		top := rng.Intn(80) - 16
		left := rng.Intn(100) - 16
		return frame.R(top, top+rng.Intn(40)-4, left, left+rng.Intn(40)-4)
	}

	for i := 0; i < 500; i++ {
		n := rng.Intn(6)
		rects := make([]frame.Rect, n)
		for j := range rects {
			rects[j] = randRect()
		}
		minArea := rng.Intn(400)

		survivors := 0
		for _, r := range rects {
			if r.Area() >= minArea {
				survivors++
			}
		}

		multi := Select(color, nil, rects, Config{MultipleDetection: true, MinArea: minArea})
		if len(multi.Faces) != survivors {
			t.Fatalf("case %d: multiple emitted %d, want %d", i, len(multi.Faces), survivors)
		}
		if multi.AnyDetected != (n > 0) {
			t.Fatalf("case %d: AnyDetected %v with %d rects", i, multi.AnyDetected, n)
		}

		single := Select(color, nil, rects, Config{MinArea: minArea})
		if single.AnyDetected != (n > 0) {
			t.Fatalf("case %d: AnyDetected %v with %d rects", i, single.AnyDetected, n)
		}
		if survivors == 0 {
			if len(single.Faces) != 0 {
				t.Fatalf("case %d: emitted %d faces with no survivors", i, len(single.Faces))
			}
			continue
		}
		if len(single.Faces) != 1 {
			t.Fatalf("case %d: single emitted %d faces", i, len(single.Faces))
		}

		// Winner is the earliest survivor with the maximum raw area.
		var want frame.Rect
		wantArea, found := 0, false
		for _, r := range rects {
			if r.Area() < minArea {
				continue
			}
			if !found || r.Area() > wantArea {
				want, wantArea, found = r, r.Area(), true
			}
		}
		if got := single.Faces[0].Rect; got != want.Clamp(color.Height, color.Width) {
			t.Fatalf("case %d: winner %v, want %v", i, got, want)
		}
	}
}

func TestSelect_DoesNotMutateInputs(t *testing.T) {
	color := colorFrame(20, 20)
	before := append([]byte(nil), color.Data...)
	rects := []frame.Rect{frame.R(-5, 10, -5, 10), frame.R(2, 8, 2, 8)}
	rectsBefore := append([]frame.Rect(nil), rects...)

	Select(color, nil, rects, Config{MultipleDetection: true})
	Select(color, nil, rects, Config{})

	for i := range before {
		if color.Data[i] != before[i] {
			t.Fatal("color frame mutated")
		}
	}
	for i := range rects {
		if rects[i] != rectsBefore[i] {
			t.Fatal("rect slice mutated")
		}
	}
}
