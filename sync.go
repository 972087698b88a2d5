package gitbig

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/reach"
	"github.com/aweris/gitbig/internal/tier"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PullOptions controls Pull.
type PullOptions struct {
	// Hard downloads objects missing from the cache. Pulling explicit paths
	// is always hard.
	Hard bool
	// Extra receives an additional hardlink of the pulled object. With more
	// than one entry it names a directory.
	Extra string
}

// Push uploads every tracked object the depot does not have yet and
// publishes this clone's reachable set.
func (r *Repo) Push(ctx context.Context) error {
	if err := r.requireDepot(); err != nil {
		return err
	}

	chain := tier.NewChain(tier.NewCache(r.fs), r.depotTier())
	var errs error
	for _, e := range r.entries() {
		err := chain.Put(ctx, e)
		if errors.Is(err, ErrObjectMissing) {
			// not pulled here; nothing to do if another clone uploaded it
			if _, ok, serr := r.depot.Stat(ctx, e.Digest); serr == nil && ok {
				err = nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = multierr.Append(errs, fmt.Errorf("push %s: %w", e.RelPath, err))
		}
	}
	return multierr.Append(errs, r.saveRefs(ctx))
}

// Pull materializes tracked files in the working tree. Without paths every
// tracked file is pulled and the anchor directory is rebuilt from scratch.
func (r *Repo) Pull(ctx context.Context, paths []string, opts PullOptions) error {
	entries, err := r.selectEntries(paths)
	if err != nil {
		return err
	}
	hard := opts.Hard || len(paths) > 0
	if hard {
		if err := r.requireDepot(); err != nil {
			return err
		}
	}
	if len(paths) == 0 {
		if err := r.fs.RemoveAll(r.layout.AnchorsDir); err != nil {
			return errors.ErrIO.Wrap(err)
		}
	}

	onLink := tier.OnLink(func(e *entry.Entry) {
		fmt.Fprintf(r.out, "Linking: %s -> %s\n", e.Digest.Short(), e.RelPath)
	})
	chain := r.localChain(onLink)
	if hard {
		chain = r.fullChain(onLink)
	}

	var errs error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := chain.Get(ctx, e)
		switch {
		case err == nil:
			if opts.Extra != "" {
				errs = multierr.Append(errs, r.linkExtra(e, opts.Extra, len(entries) > 1))
			}
		case errors.Is(err, ErrDirtyFile):
			fmt.Fprintf(r.out, "Pull aborted, dirty file detected: %q\n", e.RelPath)
			errs = multierr.Append(errs, fmt.Errorf("pull %s: %w", e.RelPath, err))
		case errors.Is(err, ErrObjectMissing) && !hard:
			fmt.Fprintf(r.out, "File %q not available locally; use `git big pull --hard` to download it\n", e.RelPath)
		default:
			errs = multierr.Append(errs, fmt.Errorf("pull %s: %w", e.RelPath, err))
		}
	}

	if r.depot != nil {
		errs = multierr.Append(errs, r.saveRefs(ctx))
	}
	return errs
}

// selectEntries returns the entries named by paths. A directory selects
// every tracked path below it. An untracked path is a usage error.
func (r *Repo) selectEntries(paths []string) ([]*entry.Entry, error) {
	if len(paths) == 0 {
		return r.entries(), nil
	}
	tracked := r.manifest.Paths()
	var rels []string
	for _, p := range paths {
		rel, ok := r.relPath(p)
		if !ok {
			return nil, errors.ErrUsage.Wrap(fmt.Errorf("path outside repository: %s", p))
		}
		n := len(rels)
		for _, t := range tracked {
			if t == rel || strings.HasPrefix(t, rel+"/") {
				rels = append(rels, t)
			}
		}
		if len(rels) == n {
			fmt.Fprintln(r.out, "Nothing to pull.")
			return nil, errors.ErrUsage.Wrap(fmt.Errorf("not tracked: %s", rel))
		}
	}
	return r.entries(rels...), nil
}

func (r *Repo) linkExtra(e *entry.Entry, extra string, multi bool) error {
	dst := r.abs(extra)
	if multi {
		dst = filepath.Join(dst, filepath.Base(e.WorkingPath))
	}
	fmt.Fprintf(r.out, "Linking: %s -> %s\n", e.Digest.Short(), dst)
	if err := r.fs.MkdirAll(filepath.Dir(dst)); err != nil {
		return errors.ErrIO.Wrap(err)
	}
	if err := r.fs.Link(e.CachePath, dst); err != nil {
		return fmt.Errorf("extra link %s: %w", dst, errors.ErrIO.Wrap(err))
	}
	return nil
}

// Drop deletes this clone's liveness report from the depot. Objects are
// left for the retention sweep.
func (r *Repo) Drop(ctx context.Context) error {
	if err := r.requireDepot(); err != nil {
		return err
	}
	return r.depot.DeleteRefs(ctx)
}

// Reachable returns every digest referenced by any version of the manifest
// in history.
func (r *Repo) Reachable(ctx context.Context) (reach.Set, error) {
	return reach.Scan(ctx, reach.NewGitHistory(r.git), r.l)
}

func (r *Repo) saveRefs(ctx context.Context) error {
	set, err := r.Reachable(ctx)
	if err != nil {
		return err
	}
	r.l.Debug("saving refs", zap.Int("digests", len(set)), zap.String("path", r.depot.RefsPath()))
	return r.depot.SaveRefs(ctx, set.Sorted(), r.refsMetadata())
}
