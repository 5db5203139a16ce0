// Package storage wraps the S3-compatible object store that holds media, artifacts and export
// bundles.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Object key prefixes.
const (
	ImagesPrefix  = "images/"
	VideosPrefix  = "videos/"
	ExportsPrefix = "exports/"
)

const uriScheme = "s3://"

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the set of object operations the server needs. Keys are relative to Bucket().
type ObjectStore interface {
	Bucket() string
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Copy performs a server-side copy of srcBucket/srcKey to key.
	Copy(ctx context.Context, srcBucket, srcKey, key string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	PresignGet(key string, ttl time.Duration) (string, error)
}

// URI formats bucket and key as an s3:// location.
func URI(bucket, key string) string {
	return uriScheme + bucket + "/" + key
}

// ParseURI splits an s3://bucket/key location.
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, uriScheme) {
		return "", "", errors.Errorf("not an s3 location: %q", uri)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, uriScheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.Errorf("s3 location has no bucket or key: %q", uri)
	}
	return bucket, key, nil
}

// IsURI reports whether s looks like an s3:// location.
func IsURI(s string) bool {
	return strings.HasPrefix(s, uriScheme)
}

// Ext returns the extension of key, without the dot.
func Ext(key string) string {
	return strings.TrimPrefix(path.Ext(key), ".")
}

// DeletePrefix removes every object under prefix and returns the keys that could not be removed
// along with the first error.
func DeletePrefix(ctx context.Context, store ObjectStore, prefix string) ([]string, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", prefix)
	}
	var (
		failed   []string
		firstErr error
	)
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			failed = append(failed, key)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "deleting %s", key)
			}
		}
	}
	return failed, firstErr
}
