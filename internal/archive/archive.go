// Package archive keeps the original statement files. Objects are
// content-addressed by checksum, so re-uploading the same file lands on
// the same object and is reported instead of duplicated.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// Service provides statement-file archival.
type Service interface {
	// Store archives the file bytes and reports where they landed.
	// Storing bytes that were archived before is not an error; the
	// returned object says so.
	Store(ctx context.Context, filename string, data []byte) (*Object, error)

	// Fetch downloads the archived bytes from the given storage URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Object describes one archived statement file.
type Object struct {
	URI           string `json:"uri"`
	Filename      string `json:"filename"`
	Checksum      string `json:"checksum"`
	Size          int64  `json:"size"`
	AlreadyStored bool   `json:"already_stored"`
}

// Checksum returns the sha256 hex digest of the file bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// objectName builds the content-addressed object path for a statement
// file: the checksum prefix keys the object, the original filename is
// kept for humans.
func objectName(checksum, filename string) string {
	return fmt.Sprintf("statements/%s/%s", checksum[:16], path.Base(filename))
}

// splitURI splits a gs://bucket/object URI.
func splitURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid storage URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid storage URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI extracts the original filename from a storage URI.
func FilenameFromURI(uri string) string {
	_, object, err := splitURI(uri)
	if err != nil {
		return path.Base(uri)
	}
	return path.Base(object)
}
