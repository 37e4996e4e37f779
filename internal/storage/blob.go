// Package storage persists composed result images and hands out their URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrForeignURL = errors.New("url does not belong to this blob store")
	ErrEmptyBlob  = errors.New("blob is empty")
)

// BlobStore stores result images.
type BlobStore interface {
	// Put stores data and returns its public URL.
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// Get returns the bytes behind a URL produced by Put.
	Get(ctx context.Context, url string) ([]byte, error)
}

// extensionFor maps an image media type to a file extension.
func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	switch mediaType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	return "bin"
}

// objectName returns a fresh time-sortable file name.
func objectName(contentType string) string {
	return fmt.Sprintf("%s.%s", strings.ToLower(ulid.Make().String()), extensionFor(contentType))
}

// datedKey returns results/<yyyy>/<mm>/<name>.
func datedKey(now time.Time, name string) string {
	return fmt.Sprintf("results/%04d/%02d/%s", now.Year(), int(now.Month()), name)
}
