package tier

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aweris/gitbig/internal/depot"
	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/fsys"
	"go.uber.org/zap"
)

// Depot is the remote tier. Downloads land in tmpDir and are renamed into
// the cache only after their digest has been verified.
type Depot struct {
	link
	fs     fsys.Filesystem
	depot  *depot.Depot
	tmpDir string
	l      *zap.Logger
}

// NewDepot returns the remote tier backed by d.
func NewDepot(f fsys.Filesystem, d *depot.Depot, tmpDir string, l *zap.Logger) *Depot {
	if l == nil {
		l = zap.NewNop()
	}
	return &Depot{fs: f, depot: d, tmpDir: tmpDir, l: l}
}

func (d *Depot) Name() string { return "depot" }

func (d *Depot) Status(ctx context.Context, e *entry.Entry) error {
	size, ok, err := d.depot.Stat(ctx, e.Digest)
	if err != nil {
		return err
	}
	if ok {
		p := &e.Presence
		p.Depot = entry.Copy
		p.DepotSize = size
		if !p.Working.Present() && !p.Cache.Present() {
			p.Size = size
		}
	}
	return d.nextStatus(ctx, e)
}

// Get downloads the object into the cache.
func (d *Depot) Get(ctx context.Context, e *entry.Entry) (err error) {
	if err := d.fs.MkdirAll(d.tmpDir); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	tmp, err := d.fs.CreateTemp(d.tmpDir, "download-*")
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	defer func() {
		if d.fs.Exists(tmpPath) {
			_ = d.fs.Remove(tmpPath)
		}
	}()

	d.l.Info("downloading", zap.String("path", e.RelPath), zap.String("digest", e.Digest.Short()))
	if err := d.depot.Download(ctx, e.Digest, tmpPath); err != nil {
		return err
	}

	got, err := digest.File(tmpPath)
	if err != nil {
		return err
	}
	if got != e.Digest {
		return errors.ErrIO.Wrap(fmt.Errorf("%s: downloaded content hashes to %s, want %s", e.RelPath, got.Short(), e.Digest.Short()))
	}

	if err := d.fs.MkdirAll(filepath.Dir(e.CachePath)); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	if err := d.fs.Rename(tmpPath, e.CachePath); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	if err := d.fs.Lock(e.CachePath); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	return nil
}

// Put uploads the cached object unless the depot already has it.
func (d *Depot) Put(ctx context.Context, e *entry.Entry) error {
	_, ok, err := d.depot.Stat(ctx, e.Digest)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	d.l.Info("uploading", zap.String("path", e.RelPath), zap.String("digest", e.Digest.Short()))
	return d.depot.Upload(ctx, e.Digest, e.CachePath)
}
