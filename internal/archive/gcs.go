package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// uploadTimeout bounds a single statement-file upload.
const uploadTimeout = 2 * time.Minute

// GCS is the Cloud Storage implementation of Service. It assumes
// Application Default Credentials are configured.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS archive writing into the given bucket.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: creating storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GCS) Store(ctx context.Context, filename string, data []byte) (*Object, error) {
	checksum := Checksum(data)
	name := objectName(checksum, filename)
	obj := g.client.Bucket(g.bucket).Object(name)

	result := &Object{
		URI:      fmt.Sprintf("gs://%s/%s", g.bucket, name),
		Filename: filename,
		Checksum: checksum,
		Size:     int64(len(data)),
	}

	// Content-addressing makes the existence check the duplicate check.
	switch _, err := obj.Attrs(ctx); {
	case err == nil:
		result.AlreadyStored = true
		return result, nil
	case errors.Is(err, storage.ErrObjectNotExist):
	default:
		return nil, fmt.Errorf("archive: checking object %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("archive: writing object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("archive: finalizing object %s: %w", name, err)
	}

	return result, nil
}

func (g *GCS) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := splitURI(uri)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: reading bytes: %w", err)
	}
	return data, nil
}

var _ Service = (*GCS)(nil)
