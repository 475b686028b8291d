// Package imageinfo decodes uploads to prove they are real images and to
// capture their dimensions before admission.
package imageinfo

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Info is what we learn from a successful decode.
type Info struct {
	Format string
	Width  int
	Height int
}

// Inspect decodes data fully. Dimensions are reported after EXIF orientation.
func Inspect(data []byte) (Info, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("image decode failed: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Info{}, fmt.Errorf("image decode failed: %w", err)
	}
	b := img.Bounds()
	return Info{Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}
