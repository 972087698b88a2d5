// Package depot implements the remote object store tier.
//
// A Backend is the narrow contract every storage vendor implements:
//
//   - HasObject/GetFile/PutFile for streamed content objects
//   - GetBlob/PutBlob/DeleteBlob for small documents with metadata
//
// Depot layers the local presence index, per-call timeouts and retries on top
// of a Backend.
//
// Supported URLs:
//
//	s3://bucket[/prefix]                 Amazon S3
//	gs://bucket[/prefix]                 Google Cloud Storage through its S3 interoperability API
//	s3+http://host:port/bucket[/prefix]  any S3 compatible endpoint over plain http
//	oci://registry/repository            an OCI distribution registry
//	file:///path                         a directory
package depot

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Blob is a small document read back from the depot.
type Blob struct {
	Data         []byte
	Metadata     map[string]string
	LastModified time.Time
}

// Backend is implemented per storage vendor. Missing objects are reported
// through the ok results; every other failure maps to the storage sentinels
// of package errors where possible.
type Backend interface {
	// HasObject returns the size of the object at path.
	HasObject(ctx context.Context, path string) (size int64, ok bool, err error)
	// GetFile streams the object at path into the local file dest.
	GetFile(ctx context.Context, path, dest string) error
	// PutFile streams the local file src to path.
	PutFile(ctx context.Context, path, src string) error
	GetBlob(ctx context.Context, path string) (blob *Blob, ok bool, err error)
	PutBlob(ctx context.Context, path string, data []byte, metadata map[string]string) error
	// DeleteBlob removes path. Deleting a missing object is not an error.
	DeleteBlob(ctx context.Context, path string) error
	String() string
}

// OpenBackend selects the Backend for cfg.URL.
func OpenBackend(cfg config.Depot, l *zap.Logger) (Backend, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.ErrInvalidResource.Wrap(fmt.Errorf("depot url %q: %w", cfg.URL, err))
	}

	switch u.Scheme {
	case "s3", "gs", "s3+http", "s3+https":
		return NewS3(u, cfg, l)
	case "oci":
		return NewOCI(u, cfg, l)
	case "file":
		if u.Path == "" {
			return nil, errors.ErrInvalidResource.Wrap(fmt.Errorf("depot url %q has no path", cfg.URL))
		}
		return NewLocal(afero.NewBasePathFs(afero.NewOsFs(), u.Path), u.Path), nil
	default:
		return nil, errors.ErrInvalidResource.Wrap(fmt.Errorf("unsupported depot scheme %q", u.Scheme))
	}
}
