// Package storage persists uploaded objects such as profile pictures.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyKey is returned when an object key is blank after normalization.
var ErrEmptyKey = errors.New("empty key")

// ObjectStore saves and removes opaque objects by key.
type ObjectStore interface {
	// Save stores the content of r under key and returns the key as stored.
	Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	// URL maps a stored key to the location clients fetch it from.
	URL(key string) string
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}

func joinURL(base, key string) string {
	key = strings.TrimLeft(key, "/")
	if base == "" {
		return "/" + key
	}
	return fmt.Sprintf("%s/%s", base, key)
}
