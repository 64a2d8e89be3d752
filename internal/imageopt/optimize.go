// Package imageopt shrinks chat photos before upload.
//
// Optimization is best effort: any failure hands back the original file so a
// bad image never blocks sending a message.
package imageopt

import (
	"bytes"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"

	// Registered decoders for the accepted upload formats
	_ "image/gif"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is the re-encode quality (0.85 on a 0-1 scale)
const JPEGQuality = 85

// MaxPixels bounds width×height of a photo that will be decoded (40 MP).
// Small compressed files can declare huge canvases.
const MaxPixels = 40_000_000

// File is an in-memory upload
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Viewport is the display class a photo is sized for
type Viewport string

const (
	ViewportMobile  Viewport = "mobile"
	ViewportTablet  Viewport = "tablet"
	ViewportDesktop Viewport = "desktop"
)

// Bounds is a maximum width and height in pixels
type Bounds struct {
	Width  int
	Height int
}

var viewportBounds = map[Viewport]Bounds{
	ViewportMobile:  {Width: 300, Height: 400},
	ViewportTablet:  {Width: 400, Height: 500},
	ViewportDesktop: {Width: 500, Height: 600},
}

// ParseViewport maps a client hint to a viewport class, defaulting to desktop
func ParseViewport(s string) Viewport {
	switch Viewport(strings.ToLower(strings.TrimSpace(s))) {
	case ViewportMobile:
		return ViewportMobile
	case ViewportTablet:
		return ViewportTablet
	default:
		return ViewportDesktop
	}
}

// MaxBounds returns the size limit of a viewport class
func (v Viewport) MaxBounds() Bounds {
	if b, ok := viewportBounds[v]; ok {
		return b
	}
	return viewportBounds[ViewportDesktop]
}

// TargetSize computes the output size for a w×h image. The aspect ratio is
// kept and the image is only ever scaled down.
func TargetSize(w, h int, max Bounds) (int, int) {
	if w <= max.Width && h <= max.Height {
		return w, h
	}

	newW, newH := w, h
	if newW > max.Width {
		newH = h * max.Width / w
		newW = max.Width
	}
	if newH > max.Height {
		newW = newW * max.Height / newH
		newH = max.Height
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return newW, newH
}

// Dimensions reads the width and height from the image header without
// decoding any pixel data
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// ExceedsPixelLimit reports whether a w×h image is larger than MaxPixels
func ExceedsPixelLimit(w, h int) bool {
	return int64(w)*int64(h) > MaxPixels
}

// Optimize decodes the file, scales it to fit the viewport class and
// re-encodes it as JPEG. On any failure, or when the image is larger than
// MaxPixels, the original file is returned.
func Optimize(file File, viewport Viewport) File {
	if w, h, err := Dimensions(file.Data); err == nil && ExceedsPixelLimit(w, h) {
		log.Warn().Str("file", file.Name).Int("width", w).Int("height", h).Msg("Photo too large to decode, keeping original")
		return file
	}

	img, format, err := image.Decode(bytes.NewReader(file.Data))
	if err != nil {
		log.Debug().Err(err).Str("file", file.Name).Msg("Photo decode failed, keeping original")
		return file
	}

	b := img.Bounds()
	w, h := TargetSize(b.Dx(), b.Dy(), viewport.MaxBounds())
	if w != b.Dx() || h != b.Dy() {
		img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		log.Debug().Err(err).Str("file", file.Name).Msg("Photo encode failed, keeping original")
		return file
	}

	log.Debug().
		Str("file", file.Name).
		Str("format", format).
		Int("src_width", b.Dx()).
		Int("src_height", b.Dy()).
		Int("width", w).
		Int("height", h).
		Int("src_bytes", len(file.Data)).
		Int("bytes", buf.Len()).
		Msg("Photo optimized")

	return File{
		Name:        jpegName(file.Name),
		ContentType: "image/jpeg",
		Data:        buf.Bytes(),
	}
}

func jpegName(name string) string {
	if name == "" {
		return "photo.jpg"
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}
