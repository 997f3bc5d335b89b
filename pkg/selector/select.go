// Package selector decides which detected face regions to emit for a frame.
//
// Select is pure: it keeps no state between cycles and never touches the
// input buffers, so every cycle must supply a fresh frame and rect set.
package selector

import "github.com/teslashibe/go-facenode/pkg/frame"

// Config is fixed for the lifetime of the node.
type Config struct {
	// MultipleDetection emits every surviving rect instead of the closest one.
	MultipleDetection bool
	// DepthCamera selects the closest rect by mean depth instead of area.
	// A depth frame must then be passed to Select.
	DepthCamera bool
	// MinArea drops rects whose raw area is below it.
	MinArea int
}

// Face is one emitted region. Depth is set iff depth mode is enabled.
type Face struct {
	Rect  frame.Rect // clamped bounds used for both crops
	Color frame.Image
	Depth *frame.Image
}

// Result is the outcome of one cycle.
type Result struct {
	Faces []Face
	// AnyDetected is true when the detector returned any rect at all,
	// before the area filter.
	AnyDetected bool
}

// Select filters, clamps and picks face regions from rects.
//
// depth must be non-nil and match color's dimensions when cfg.DepthCamera
// is set; it is ignored otherwise.
func Select(color frame.Image, depth *frame.Image, rects []frame.Rect, cfg Config) Result {
	res := Result{AnyDetected: len(rects) > 0}

	useDepth := cfg.DepthCamera && depth != nil

	survivors := make([]frame.Rect, 0, len(rects))
	for _, r := range rects {
		if r.Area() < cfg.MinArea {
			continue
		}
		survivors = append(survivors, r)
	}
	if len(survivors) == 0 {
		return res
	}

	if cfg.MultipleDetection {
		res.Faces = make([]Face, 0, len(survivors))
		for _, r := range survivors {
			res.Faces = append(res.Faces, crop(color, depth, r, useDepth))
		}
		return res
	}

	best := survivors[0]
	var bestMean []float64
	if useDepth {
		bestMean = depth.Crop(best).Mean()
	}
	for _, r := range survivors[1:] {
		if useDepth {
			m := depth.Crop(r).Mean()
			if lessMean(m, bestMean) {
				best, bestMean = r, m
			}
			continue
		}
		if r.Area() > best.Area() {
			best = r
		}
	}
	res.Faces = []Face{crop(color, depth, best, useDepth)}
	return res
}

func crop(color frame.Image, depth *frame.Image, r frame.Rect, useDepth bool) Face {
	c := r.Clamp(color.Height, color.Width)
	f := Face{Rect: c, Color: color.Crop(c)}
	if useDepth {
		d := depth.Crop(c)
		f.Depth = &d
	}
	return f
}

// lessMean orders per-channel means lexicographically.
func lessMean(a, b []float64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
