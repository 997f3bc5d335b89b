package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/teslashibe/go-facenode/pkg/frame"
)

// H264Decoder turns Annex-B H264 access units into frames with ffmpeg.
// Each call runs a short-lived ffmpeg over pipes; no temp files.
type H264Decoder struct {
	// Encoding of the returned frames
	Encoding string
	// Timeout bounds a single ffmpeg run
	Timeout time.Duration

	// Decode rate limiting
	mu          sync.Mutex
	lastDecode  time.Time
	minInterval time.Duration
}

// NewH264Decoder creates a decoder that decodes at most once per interval.
func NewH264Decoder(encoding string, interval time.Duration) *H264Decoder {
	return &H264Decoder{
		Encoding:    encoding,
		Timeout:     500 * time.Millisecond,
		minInterval: interval,
	}
}

// Due reports whether enough time has passed since the last decode.
func (d *H264Decoder) Due() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastDecode) >= d.minInterval
}

// Decode decodes the first picture in data. ok is false when ffmpeg could
// not produce a usable picture, which is normal before the first key frame.
func (d *H264Decoder) Decode(ctx context.Context, data []byte) (img frame.Image, ok bool, err error) {
	if len(data) < 100 {
		return frame.Image{}, false, nil
	}

	d.mu.Lock()
	d.lastDecode = time.Now()
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264", // Input format
		"-i", "pipe:0", // Read from stdin
		"-vframes", "1", // Just one frame
		"-f", "image2pipe", // Output as pipe
		"-vcodec", "mjpeg", // Output as JPEG
		"-q:v", "3", // Quality (1-31, lower is better)
		"pipe:1", // Write to stdout
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil || stdout.Len() == 0 {
			// Not enough data for a picture yet
			return frame.Image{}, false, nil
		}
		return frame.Image{}, false, fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}

	img, err = frame.Decode(stdout.Bytes(), d.Encoding)
	if err != nil {
		return frame.Image{}, false, nil
	}
	if isBlankFrame(img) {
		return frame.Image{}, false, nil
	}
	return img, true, nil
}

// isBlankFrame reports frames the decoder emits before it has a reference
// picture: tiny, near black, or uniform mid gray.
func isBlankFrame(img frame.Image) bool {
	if img.Width < 100 || img.Height < 100 {
		return true
	}

	// Sample a 10x10 grid
	var r, g, b float64
	samples := 0
	info := img.Info()
	for y := 0; y < img.Height; y += img.Height / 10 {
		for x := 0; x < img.Width; x += img.Width / 10 {
			if info.Channels >= 3 {
				b += img.At(x, y, 0)
				g += img.At(x, y, 1)
				r += img.At(x, y, 2)
			} else {
				v := img.At(x, y, 0)
				r, g, b = r+v, g+v, b+v
			}
			samples++
		}
	}
	if img.Encoding == frame.RGB8 || img.Encoding == frame.RGBA8 {
		r, b = b, r
	}

	n := float64(samples)
	avgR, avgG, avgB := r/n, g/n, b/n

	// Gray frames have R ≈ G ≈ B with low values
	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}

	// Check for uniform gray (R = G = B)
	diff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return diff < 15 && avgR > 100 && avgR < 150 && info.Channels >= 3
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
