package tier

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/fsys"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Working is the checkout tier. Tracked paths are relative symlinks to an
// anchor, which is a hardlink of the cache object.
type Working struct {
	link
	fs     fsys.Filesystem
	l      *zap.Logger
	linked func(e *entry.Entry)
}

// WorkingOption configures a Working tier.
type WorkingOption func(*Working)

// OnLink registers fn to be called whenever Get creates a working symlink.
func OnLink(fn func(e *entry.Entry)) WorkingOption {
	return func(w *Working) { w.linked = fn }
}

// WithWorkingLogger sets the logger of a Working tier.
func WithWorkingLogger(l *zap.Logger) WorkingOption {
	return func(w *Working) { w.l = l }
}

// NewWorking returns the checkout tier.
func NewWorking(f fsys.Filesystem, opts ...WorkingOption) *Working {
	w := &Working{fs: f, l: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Working) Name() string { return "working" }

func (w *Working) Status(ctx context.Context, e *entry.Entry) error {
	p := &e.Presence
	p.InAnchors = w.fs.Exists(e.AnchorPath)

	if w.fs.IsSymlink(e.WorkingPath) {
		target, err := w.fs.Readlink(e.WorkingPath)
		if err != nil {
			return errors.ErrIO.Wrap(err)
		}
		switch {
		case target == e.SymlinkTarget && p.InAnchors:
			p.IsLinked = true
			p.Working = entry.Link
		case w.fs.Exists(e.WorkingPath):
			p.Working = entry.Copy
		}
	} else if w.fs.Exists(e.WorkingPath) {
		p.Working = entry.Copy
	}

	if p.Working.Present() {
		if fi, err := w.fs.Stat(e.WorkingPath); err == nil {
			p.Size = fi.Size()
		}
	}
	return w.nextStatus(ctx, e)
}

// Get links the working path to the entry's anchor. A regular file or
// directory in the way is reported as ErrDirtyFile and left untouched; a
// symlink pointing elsewhere is re-pointed.
func (w *Working) Get(ctx context.Context, e *entry.Entry) error {
	fi, err := w.fs.Lstat(e.WorkingPath)
	switch {
	case err == nil && fi.Mode()&fs.ModeSymlink == 0:
		return errors.ErrDirtyFile.Wrap(fmt.Errorf("%s is not a git-big link", e.RelPath))
	case err != nil && !os.IsNotExist(err):
		return errors.ErrIO.Wrap(err)
	}
	exists := err == nil

	if err := w.nextGet(ctx, e); err != nil {
		return err
	}
	if err := w.ensureAnchor(e); err != nil {
		return err
	}

	if exists {
		target, err := w.fs.Readlink(e.WorkingPath)
		if err != nil {
			return errors.ErrIO.Wrap(err)
		}
		if target == e.SymlinkTarget {
			return nil
		}
		w.l.Debug("re-pointing link", zap.String("path", e.RelPath), zap.String("was", target))
		if err := w.fs.ReplaceSymlink(e.SymlinkTarget, e.WorkingPath); err != nil {
			return errors.ErrIO.Wrap(err)
		}
	} else {
		if err := w.fs.MkdirAll(filepath.Dir(e.WorkingPath)); err != nil {
			return errors.ErrIO.Wrap(err)
		}
		if err := w.fs.Symlink(e.SymlinkTarget, e.WorkingPath); err != nil {
			return errors.ErrIO.Wrap(err)
		}
	}
	if w.linked != nil {
		w.linked(e)
	}
	return nil
}

// Put moves a regular working file into the cache, links its anchor and
// atomically replaces the file with a symlink. Identical content already cached is
// not stored twice.
func (w *Working) Put(ctx context.Context, e *entry.Entry) error {
	fi, err := w.fs.Lstat(e.WorkingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return w.nextPut(ctx, e)
		}
		return errors.ErrIO.Wrap(err)
	}
	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		return w.nextPut(ctx, e)
	case fi.IsDir():
		return errors.ErrIO.Wrap(fmt.Errorf("%s is a directory", e.RelPath))
	}

	if !w.fs.Exists(e.CachePath) {
		w.l.Debug("caching", zap.String("path", e.RelPath), zap.String("digest", e.Digest.String()))
		if err := linkOrCopy(w.fs, e.WorkingPath, e.CachePath); err != nil {
			return err
		}
	}
	if err := w.ensureAnchor(e); err != nil {
		return err
	}
	// the file stays in place until the link renames over it
	if err := w.fs.ReplaceSymlink(e.SymlinkTarget, e.WorkingPath); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	return w.nextPut(ctx, e)
}

func (w *Working) ensureAnchor(e *entry.Entry) error {
	if w.fs.Exists(e.AnchorPath) {
		return nil
	}
	// a dangling leftover would make the link fail
	if w.fs.IsSymlink(e.AnchorPath) {
		if err := w.fs.Remove(e.AnchorPath); err != nil {
			return errors.ErrIO.Wrap(err)
		}
	}
	return linkOrCopy(w.fs, e.CachePath, e.AnchorPath)
}

// linkOrCopy hardlinks src to dst, copying when they live on different
// devices, and write protects the result.
func linkOrCopy(f fsys.Filesystem, src, dst string) error {
	if err := f.MkdirAll(filepath.Dir(dst)); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	err := f.Link(src, dst)
	if errors.Is(err, unix.EXDEV) {
		err = f.CopyFile(src, dst)
	}
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	if err := f.Lock(dst); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	return nil
}
