package storage

import (
	"errors"
	"strings"
)

var ErrInvalidKey = errors.New("storage: invalid object key")

// NormalizeKey strips leading separators so keys are always
// bucket-relative, and rejects parent-directory traversal segments.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	return key, nil
}
