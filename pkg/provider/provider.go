// Package provider abstracts where run artifacts such as the JSONL report are
// published.
//
// A destination is either a local path or an s3:// URI. Providers implement a
// single Put operation; authentication for object stores uses the SDK default
// credential chains.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// Provider publishes objects.
//
// Implementations should be safe for concurrent use.
type Provider interface {
	// Put writes body to key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Close releases any resources held by the provider.
	Close() error
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	// ProviderFile represents the local filesystem.
	ProviderFile ProviderType = "file"

	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// Destination parsing errors.
var (
	// ErrInvalidURI indicates the destination could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates an object store URI without a bucket.
	ErrMissingBucket = errors.New("missing bucket name")
)

// Destination is a parsed publish target.
//
// For ProviderFile, Bucket is the parent directory and Key the file name.
type Destination struct {
	Provider ProviderType
	Bucket   string
	Key      string
}

// String returns the destination in canonical form.
func (d *Destination) String() string {
	if d.Provider == ProviderFile {
		return filepath.Join(d.Bucket, d.Key)
	}
	return fmt.Sprintf("%s://%s/%s", d.Provider, d.Bucket, d.Key)
}

// ParseDestination parses a local path, file:// URI or s3://bucket/key.
// Object store destinations must name a key; a trailing slash is not a key.
func ParseDestination(uri string) (*Destination, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: empty destination", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return localDestination(uri)
	}

	scheme := strings.ToLower(uri[:schemeEnd])
	remainder := uri[schemeEnd+3:]
	switch scheme {
	case "file":
		return localDestination(remainder)
	case "s3":
	default:
		return nil, fmt.Errorf("%w: %s (supported: file, s3)", ErrUnsupportedProvider, scheme)
	}

	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return nil, fmt.Errorf("%w: %s does not name an object key", ErrInvalidURI, uri)
	}
	return &Destination{Provider: ProviderS3, Bucket: bucket, Key: key}, nil
}

func localDestination(path string) (*Destination, error) {
	if path == "" || strings.HasSuffix(path, "/") {
		return nil, fmt.Errorf("%w: %q does not name a file", ErrInvalidURI, path)
	}
	clean := filepath.Clean(path)
	return &Destination{Provider: ProviderFile, Bucket: filepath.Dir(clean), Key: filepath.Base(clean)}, nil
}
