package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotFound is returned by stores when the key has no object.
var ErrNotFound = errors.New("storage: object not found")

// Store is the artifact persistence surface shared by the GCS and local drivers.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// DetectContentType returns contentType when set, else sniffs data.
func DetectContentType(data []byte, contentType string) string {
	if strings.TrimSpace(contentType) != "" {
		return contentType
	}
	return mimetype.Detect(data).String()
}

// CleanKey normalizes an object key and rejects traversal outside the root.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("storage: key is required")
	}
	cleaned := path.Clean("/" + trimmed)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
