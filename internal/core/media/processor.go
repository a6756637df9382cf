package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Processor defines the interface for image compression.
type Processor interface {
	// Compress downsizes data to at most maxWidth pixels wide and re-encodes it as JPEG.
	Compress(data []byte, maxWidth, quality int) (*Compressed, error)
}

// Compressed is the output of a Processor
type Compressed struct {
	Data   []byte
	Width  int
	Height int
}

// ImageProcessor implements Processor using the imaging library.
type ImageProcessor struct{}

// NewProcessor creates a new ImageProcessor instance.
func NewProcessor() Processor {
	return &ImageProcessor{}
}

// Compress decodes the image (honoring EXIF orientation), scales it down to maxWidth
// preserving aspect ratio, flattens transparency onto white and encodes JPEG.
// Images already narrower than maxWidth are re-encoded without resizing.
func (p *ImageProcessor) Compress(data []byte, maxWidth, quality int) (*Compressed, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrUnsupportedMediaType)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", ErrUnsupportedMediaType, err)
	}

	img = fitWidth(img, maxWidth)

	// JPEG has no alpha channel; composite over white so transparent areas don't turn black
	bounds := img.Bounds()
	canvas := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat := imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	return &Compressed{
		Data:   buf.Bytes(),
		Width:  flat.Bounds().Dx(),
		Height: flat.Bounds().Dy(),
	}, nil
}

// fitWidth scales img to maxWidth keeping its aspect ratio. It never upscales.
func fitWidth(img image.Image, maxWidth int) image.Image {
	if img.Bounds().Dx() <= maxWidth {
		return img
	}
	// Height 0 lets imaging keep the aspect ratio
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}
