// Package imagestore keeps the optional photo attached to a food item.
// Photos are normalised to JPEG and shrunk to a maximum width before they
// are stored, either in a local directory or in an S3-compatible bucket.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
)

// Store persists encoded images under opaque keys.
type Store interface {
	Save(ctx context.Context, userID int64, data []byte) (key string, err error)
	Delete(ctx context.Context, key string) error
	// URL returns where a client can fetch the image.
	URL(ctx context.Context, key string) (string, error)
}

const jpegQuality = 80

// Normalize decodes a JPEG, PNG or GIF, scales it down to maxWidth keeping
// the aspect ratio (never up), and re-encodes it as JPEG. Undecodable input
// is a validation error.
func Normalize(data []byte, maxWidth int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported image: %v", common.ErrorValidation, err)
	}

	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = resize.Resize(uint(maxWidth), 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// NewKey returns a fresh key of the form users/<id>/<yyyy>/<mm>/<dd>/<uuid>.jpg.
func NewKey(userID int64, now time.Time) string {
	return fmt.Sprintf("users/%d/%04d/%02d/%02d/%s.jpg", userID, now.Year(), now.Month(), now.Day(), uuid.New())
}
