package depot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aweris/gitbig/internal/compression"
	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"go.uber.org/zap"
)

const (
	// ObjectMediaType marks layers holding raw object bytes.
	ObjectMediaType types.MediaType = "application/vnd.gitbig.object.v1"

	// metaLabelPrefix prefixes blob metadata stored as image config labels.
	metaLabelPrefix = "dev.gitbig.meta."
)

// OCI is a Backend storing each depot path as a single layer image in one
// registry repository. The tag is the path with slashes replaced by dashes.
type OCI struct {
	repo       name.Repository
	key        string
	secret     string
	compressor *compression.Compressor
	l          *zap.Logger
}

// NewOCI returns the backend for oci://registry/repository.
func NewOCI(u *url.URL, cfg config.Depot, l *zap.Logger) (*OCI, error) {
	if l == nil {
		l = zap.NewNop()
	}
	ref := u.Host + u.Path
	repo, err := name.NewRepository(strings.TrimSuffix(ref, "/"))
	if err != nil {
		return nil, errors.ErrInvalidResource.Wrap(fmt.Errorf("invalid repository %q: %w", ref, err))
	}
	compressor, err := compression.NewCompressor(compression.Default)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	return &OCI{repo: repo, key: cfg.Key, secret: cfg.Secret, compressor: compressor, l: l}, nil
}

func (r *OCI) String() string { return "oci://" + r.repo.String() }

func (r *OCI) tag(p string) (name.Tag, error) {
	tag, err := name.NewTag(r.repo.String() + ":" + strings.ReplaceAll(p, "/", "-"))
	if err != nil {
		return name.Tag{}, errors.ErrInvalidResource.Wrap(fmt.Errorf("path %q is not a valid tag: %w", p, err))
	}
	return tag, nil
}

// fileLayer streams an object from disk. Objects are content addressed by
// the same SHA-256 the registry uses, so the layer digest is known upfront.
type fileLayer struct {
	path string
	hash v1.Hash
	size int64
}

func newFileLayer(path string, d digest.Digest) (*fileLayer, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.ErrIO.Wrap(err)
	}
	if !digest.Valid(string(d)) {
		if d, err = digest.File(path); err != nil {
			return nil, err
		}
	}
	return &fileLayer{path: path, hash: v1.Hash{Algorithm: "sha256", Hex: string(d)}, size: fi.Size()}, nil
}

func (l *fileLayer) Digest() (v1.Hash, error)            { return l.hash, nil }
func (l *fileLayer) DiffID() (v1.Hash, error)            { return l.hash, nil }
func (l *fileLayer) Compressed() (io.ReadCloser, error)   { return os.Open(l.path) }
func (l *fileLayer) Uncompressed() (io.ReadCloser, error) { return os.Open(l.path) }
func (l *fileLayer) Size() (int64, error)                 { return l.size, nil }
func (l *fileLayer) MediaType() (types.MediaType, error)  { return ObjectMediaType, nil }

// blobLayer implements v1.Layer with zstd compression for small documents.
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

func (r *OCI) newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   r.compressor.Compress(data),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

func (r *OCI) HasObject(ctx context.Context, p string) (int64, bool, error) {
	layer, ok, err := r.fetchLayer(ctx, p)
	if err != nil || !ok {
		return 0, false, err
	}
	size, err := layer.Size()
	if err != nil {
		return 0, false, toRegistryErrors(err)
	}
	return size, true, nil
}

func (r *OCI) GetFile(ctx context.Context, p, dest string) (err error) {
	layer, ok, err := r.fetchLayer(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrNotExists.Wrap(fmt.Errorf("%s not found in %s", p, r))
	}

	rc, err := layer.Compressed()
	if err != nil {
		return toRegistryErrors(err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.ErrIO.Wrap(cerr)
		}
	}()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to read layer: %w", toRegistryErrors(err))
	}
	return nil
}

func (r *OCI) PutFile(ctx context.Context, p, src string) error {
	layer, err := newFileLayer(src, digest.Digest(strings.TrimPrefix(p, entry.DepotObjectsPrefix)))
	if err != nil {
		return err
	}
	img, err := r.buildImage(layer, nil, time.Time{})
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	return r.pushImage(ctx, p, img)
}

func (r *OCI) GetBlob(ctx context.Context, p string) (*Blob, bool, error) {
	img, ok, err := r.fetchImage(ctx, p)
	if err != nil || !ok {
		return nil, false, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, false, fmt.Errorf("get config: %w", toRegistryErrors(err))
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, false, fmt.Errorf("get layers: %w", toRegistryErrors(err))
	}
	if len(layers) != 1 {
		return nil, false, errors.ErrStorageAPI.Wrap(fmt.Errorf("%s has %d layers, want 1", p, len(layers)))
	}

	rc, err := layers[0].Compressed()
	if err != nil {
		return nil, false, fmt.Errorf("read layer: %w", toRegistryErrors(err))
	}
	data, err := r.compressor.DecompressReader(rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, false, fmt.Errorf("read layer: %w", err)
	}

	meta := make(map[string]string)
	for k, v := range cfg.Config.Labels {
		if key, ok := strings.CutPrefix(k, metaLabelPrefix); ok {
			meta[key] = v
		}
	}
	return &Blob{Data: data, Metadata: meta, LastModified: cfg.Created.Time}, true, nil
}

func (r *OCI) PutBlob(ctx context.Context, p string, data []byte, metadata map[string]string) error {
	img, err := r.buildImage(r.newBlobLayer(data), metadata, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	return r.pushImage(ctx, p, img)
}

func (r *OCI) DeleteBlob(ctx context.Context, p string) error {
	tag, err := r.tag(p)
	if err != nil {
		return err
	}
	options := r.remoteOptions(ctx)
	desc, err := remote.Head(tag, options...)
	if err != nil {
		err = toRegistryErrors(err)
		if errors.Is(err, errors.ErrNotExists) {
			return nil
		}
		return err
	}
	// Not every registry deletes tags; the manifest delete below drops the
	// tag on those that don't.
	if err := remote.Delete(tag, options...); err != nil {
		r.l.Debug("tag delete refused", zap.String("tag", tag.String()), zap.Error(err))
	}
	err = toRegistryErrors(remote.Delete(r.repo.Digest(desc.Digest.String()), options...))
	if errors.Is(err, errors.ErrNotExists) {
		return nil
	}
	return err
}

func (r *OCI) buildImage(layer v1.Layer, metadata map[string]string, created time.Time) (v1.Image, error) {
	base := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	base = mutate.ConfigMediaType(base, types.OCIConfigJSON)
	img, err := mutate.AppendLayers(base, layer)
	if err != nil {
		return nil, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg = cfg.DeepCopy()

	cfg.Config.Labels = map[string]string{}
	for k, v := range metadata {
		cfg.Config.Labels[metaLabelPrefix+k] = v
	}
	if !created.IsZero() {
		cfg.Created = v1.Time{Time: created}
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCI) pushImage(ctx context.Context, p string, img v1.Image) error {
	tag, err := r.tag(p)
	if err != nil {
		return err
	}
	r.l.Debug("push image", zap.String("tag", tag.String()))
	return toRegistryErrors(remote.Write(tag, img, r.remoteOptions(ctx)...))
}

func (r *OCI) fetchImage(ctx context.Context, p string) (v1.Image, bool, error) {
	tag, err := r.tag(p)
	if err != nil {
		return nil, false, err
	}
	img, err := remote.Image(tag, r.remoteOptions(ctx)...)
	if err != nil {
		err = toRegistryErrors(err)
		if errors.Is(err, errors.ErrNotExists) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch image: %w", err)
	}
	return img, true, nil
}

func (r *OCI) fetchLayer(ctx context.Context, p string) (v1.Layer, bool, error) {
	img, ok, err := r.fetchImage(ctx, p)
	if err != nil || !ok {
		return nil, ok, err
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, false, fmt.Errorf("get layers: %w", toRegistryErrors(err))
	}
	if len(layers) != 1 {
		return nil, false, errors.ErrStorageAPI.Wrap(fmt.Errorf("%s has %d layers, want 1", p, len(layers)))
	}
	return layers[0], true, nil
}

func (r *OCI) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if r.key != "" {
		return append(options, remote.WithAuth(&authn.Basic{
			Username: r.key,
			Password: r.secret,
		}))
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

// toRegistryErrors maps registry responses to the storage sentinels.
func toRegistryErrors(err error) error {
	if err == nil {
		return nil
	}
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return err
	}
	switch terr.StatusCode {
	case http.StatusUnauthorized:
		return errors.ErrUnauthorized.Wrap(err)
	case http.StatusForbidden:
		return errors.ErrForbidden.Wrap(err)
	case http.StatusNotFound:
		return errors.ErrNotExists.Wrap(err)
	case http.StatusBadRequest:
		return errors.ErrInvalidResource.Wrap(err)
	default:
		return errors.ErrStorageAPI.Wrap(err)
	}
}
