package mel

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
)

// ImageName returns the deterministic file name used for the diagnostic image
// of the mel matrix starting at frame index.
func ImageName(index int) string {
	return fmt.Sprintf("frame_%d.png", index)
}

// Image renders frames (frame-major, nMels bins each) as an 8-bit grayscale
// image: one column per frame, low frequencies at the bottom. Values are
// scaled linearly between the matrix minimum and maximum.
func Image(frames [][]float32, nMels int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, len(frames), nMels))
	if len(frames) == 0 || nMels == 0 {
		return img
	}

	lo, hi := frames[0][0], frames[0][0]
	for _, f := range frames {
		for _, v := range f {
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	span := hi - lo

	for x, f := range frames {
		for m := range nMels {
			var g uint8
			if span > 0 {
				g = uint8((f[m] - lo) / span * 255)
			}
			img.SetGray(x, nMels-1-m, color.Gray{Y: g})
		}
	}
	return img
}

// SaveImage writes the PNG rendering of frames to dir/ImageName(index),
// creating dir if needed.
func SaveImage(dir string, index int, frames [][]float32, nMels int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mel: create image dir: %w", err)
	}
	path := filepath.Join(dir, ImageName(index))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("mel: create image: %w", err)
	}
	if err := png.Encode(f, Image(frames, nMels)); err != nil {
		f.Close()
		return "", fmt.Errorf("mel: encode image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("mel: close image: %w", err)
	}
	return path, nil
}
