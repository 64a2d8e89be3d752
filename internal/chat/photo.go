package chat

import (
	"github.com/h2non/filetype"

	"github.com/leaguechat/internal/imageopt"
)

// DefaultMaxPhotoBytes is the upload limit for chat photos (2 MiB)
const DefaultMaxPhotoBytes = 2 * 1024 * 1024

var allowedPhotoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ValidatePhoto checks the size and sniffed media type of an upload before it
// reaches the optimizer. maxBytes <= 0 means DefaultMaxPhotoBytes.
func ValidatePhoto(file imageopt.File, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPhotoBytes
	}
	if len(file.Data) > maxBytes {
		return ErrPayloadTooLarge
	}
	if len(file.Data) == 0 {
		return Invalid("photo is empty")
	}

	kind, err := filetype.Match(file.Data)
	if err != nil || kind == filetype.Unknown {
		return ErrUnsupportedMediaType
	}
	if !allowedPhotoTypes[kind.MIME.Value] {
		return ErrUnsupportedMediaType
	}

	// Undecodable headers are left to the optimizer, which keeps the original
	if w, h, err := imageopt.Dimensions(file.Data); err == nil && imageopt.ExceedsPixelLimit(w, h) {
		return ErrPhotoDimensions
	}
	return nil
}
