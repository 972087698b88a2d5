package gitbig

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/tier"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// staging collects the git index updates of a batch.
type staging struct {
	add    []string
	remove []string
}

func (s *staging) flush(ctx context.Context, r *Repo) error {
	return multierr.Combine(
		r.git.Add(ctx, s.add...),
		r.git.Remove(ctx, s.remove...),
	)
}

// Add starts tracking the files under paths: their bytes move into the cache
// and each working file becomes a symlink to its anchor. Symlinks are skipped.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	files, errs := r.walk(paths)
	chain := r.localChain()
	var st staging
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := r.add(ctx, chain, p)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("add %s: %w", p, err))
			continue
		}
		if rel != "" {
			st.add = append(st.add, filepath.FromSlash(rel))
		}
	}
	return r.finish(ctx, &st, errs)
}

func (r *Repo) add(ctx context.Context, chain *tier.Chain, p string) (string, error) {
	fi, err := r.fs.Lstat(p)
	if err != nil {
		return "", errors.ErrIO.Wrap(err)
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		r.l.Debug("skipping symlink", zap.String("path", p))
		return "", nil
	}
	rel, err := r.trackable(p)
	if err != nil {
		return "", err
	}

	d, err := digest.File(p)
	if err != nil {
		return "", err
	}
	e := r.layout.Entry(rel, d)
	if err := chain.Put(ctx, e); err != nil {
		return "", err
	}
	r.manifest.Set(rel, d)
	r.l.Debug("added", zap.String("path", rel), zap.String("digest", d.String()))
	return rel, nil
}

// trackable returns the manifest key for p, refusing paths git-big owns.
func (r *Repo) trackable(p string) (string, error) {
	rel, ok := r.relPath(p)
	if !ok {
		return "", errors.ErrUsage.Wrap(fmt.Errorf("path outside repository: %s", p))
	}
	if rel == entry.ManifestName || rel == entry.AnchorsName || hasDirPrefix(rel, entry.AnchorsName) {
		return "", errors.ErrUsage.Wrap(fmt.Errorf("cannot track %s", rel))
	}
	return rel, nil
}

// Remove stops tracking the files under paths and deletes their links. The
// cached bytes are kept.
func (r *Repo) Remove(ctx context.Context, paths ...string) error {
	files, errs := r.walk(paths)
	var st staging
	for _, p := range files {
		rel, ok := r.relPath(p)
		if !ok {
			errs = multierr.Append(errs, errors.ErrUsage.Wrap(fmt.Errorf("path outside repository: %s", p)))
			continue
		}
		if _, tracked := r.manifest.Get(rel); !tracked {
			errs = multierr.Append(errs, errors.ErrUsage.Wrap(fmt.Errorf("not tracked: %s", rel)))
			continue
		}
		if err := r.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", rel, errors.ErrIO.Wrap(err)))
			continue
		}
		r.manifest.Delete(rel)
		st.remove = append(st.remove, filepath.FromSlash(rel))
		fmt.Fprintln(r.out, rel)
	}
	return r.finish(ctx, &st, errs)
}

// Unlock replaces the links under paths with writable copies of their bytes
// and stops tracking them.
func (r *Repo) Unlock(ctx context.Context, paths ...string) error {
	files, errs := r.walk(paths)
	var st staging
	for _, p := range files {
		if !r.fs.IsSymlink(p) {
			continue
		}
		rel, ok := r.relPath(p)
		if !ok {
			continue
		}
		d, tracked := r.manifest.Get(rel)
		if !tracked {
			continue
		}
		if err := r.unlock(r.layout.Entry(rel, d)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unlock %s: %w", rel, err))
			continue
		}
		r.manifest.Delete(rel)
		st.remove = append(st.remove, filepath.FromSlash(rel))
	}
	return r.finish(ctx, &st, errs)
}

func (r *Repo) unlock(e *entry.Entry) error {
	if !r.fs.Exists(e.CachePath) {
		return errors.ErrObjectMissing.Wrap(fmt.Errorf("%s is not cached", e.Digest.Short()))
	}
	if err := r.fs.Remove(e.WorkingPath); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	if err := r.fs.CopyFile(e.CachePath, e.WorkingPath); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	if err := r.fs.Unlock(e.WorkingPath); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	return nil
}

// Copy tracks a new path for the content of each source. With more than one
// source dst must be a directory.
func (r *Repo) Copy(ctx context.Context, srcs []string, dst string) error {
	return r.relink(ctx, srcs, dst, false)
}

// Move renames tracked paths. With more than one source dst must be a
// directory.
func (r *Repo) Move(ctx context.Context, srcs []string, dst string) error {
	return r.relink(ctx, srcs, dst, true)
}

func (r *Repo) relink(ctx context.Context, srcs []string, dst string, move bool) error {
	pairs, err := r.pairs(srcs, dst)
	if err != nil {
		return err
	}
	chain := r.localChain()
	var (
		st   staging
		errs error
	)
	for _, pair := range pairs {
		src, tgt, err := r.relinkOne(ctx, chain, pair[0], pair[1], move)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		st.add = append(st.add, filepath.FromSlash(tgt))
		if move {
			st.remove = append(st.remove, filepath.FromSlash(src))
		}
	}
	return r.finish(ctx, &st, errs)
}

func (r *Repo) relinkOne(ctx context.Context, chain *tier.Chain, src, dst string, move bool) (relSrc, relDst string, err error) {
	relDst, err = r.trackable(r.abs(dst))
	if err != nil {
		return "", "", errors.ErrUsage.Wrap(fmt.Errorf("destination must be inside repository: %s", dst))
	}
	relSrc, ok := r.relPath(src)
	d, tracked := r.manifest.Get(relSrc)
	if !ok || !tracked {
		return "", "", errors.ErrUsage.Wrap(fmt.Errorf("source not in index: %s", src))
	}
	if relSrc == relDst {
		return "", "", errors.ErrUsage.Wrap(fmt.Errorf("source and destination are the same: %s", relSrc))
	}

	from := r.layout.Entry(relSrc, d)
	if move {
		fi, err := r.fs.Lstat(from.WorkingPath)
		if err == nil && fi.Mode()&fs.ModeSymlink == 0 {
			return "", "", errors.ErrDirtyFile.Wrap(fmt.Errorf("%s is not a git-big link", relSrc))
		}
	}

	to := r.layout.Entry(relDst, d)
	if err := r.link(ctx, chain, to); err != nil {
		return "", "", fmt.Errorf("link %s: %w", relDst, err)
	}
	r.manifest.Set(relDst, d)
	if move {
		if err := r.fs.Remove(from.WorkingPath); err != nil && !os.IsNotExist(err) {
			return "", "", errors.ErrIO.Wrap(err)
		}
		r.manifest.Delete(relSrc)
	}
	return relSrc, relDst, nil
}

// link points the working path of e at its anchor. Content that is not
// cached yet gets a dangling link that a later pull completes.
func (r *Repo) link(ctx context.Context, chain *tier.Chain, e *entry.Entry) error {
	if r.fs.Exists(e.CachePath) {
		return chain.Get(ctx, e)
	}
	if _, err := r.fs.Lstat(e.WorkingPath); err == nil {
		return errors.ErrDirtyFile.Wrap(fmt.Errorf("%s already exists", e.RelPath))
	}
	if err := r.fs.MkdirAll(filepath.Dir(e.WorkingPath)); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	if err := r.fs.Symlink(e.SymlinkTarget, e.WorkingPath); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	return nil
}

// pairs expands a cp/mv invocation into source and destination pairs.
func (r *Repo) pairs(srcs []string, dst string) ([][2]string, error) {
	if len(srcs) == 0 {
		return nil, errors.ErrUsage.Wrap(fmt.Errorf("no source given"))
	}
	fi, err := os.Stat(r.abs(dst))
	isDir := err == nil && fi.IsDir()
	if len(srcs) > 1 && !isDir {
		return nil, errors.ErrUsage.Wrap(fmt.Errorf("destination must be a directory when specifying multiple sources"))
	}

	pairs := make([][2]string, 0, len(srcs))
	for _, src := range srcs {
		tgt := dst
		if isDir {
			tgt = filepath.Join(dst, filepath.Base(src))
		}
		pairs = append(pairs, [2]string{src, tgt})
	}
	return pairs, nil
}

// finish stages the batch and saves the manifest, whatever failed before.
func (r *Repo) finish(ctx context.Context, st *staging, errs error) error {
	errs = multierr.Append(errs, st.flush(ctx, r))
	return multierr.Append(errs, r.save(ctx))
}

// walk expands directories into the files below them, skipping git and
// anchor directories. Paths that do not exist are passed through.
func (r *Repo) walk(paths []string) ([]string, error) {
	var (
		files []string
		errs  error
	)
	for _, p := range paths {
		root := r.abs(p)
		fi, err := r.fs.Lstat(root)
		if err != nil || !fi.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if name := d.Name(); path != root && (name == ".git" || name == entry.AnchorsName) {
					return filepath.SkipDir
				}
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("walk %s: %w", p, errors.ErrIO.Wrap(err)))
		}
	}
	return files, errs
}

func hasDirPrefix(p, dir string) bool {
	return len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/'
}
