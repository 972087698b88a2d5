package gitbig

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Mismatch is a cache object whose content does not hash to its name.
type Mismatch struct {
	Path   string
	Digest digest.Digest
}

// ListReachable prints the reachable digests, followed by the date and
// metadata of this clone's liveness report when the depot has one.
func (r *Repo) ListReachable(ctx context.Context) error {
	set, err := r.Reachable(ctx)
	if err != nil {
		return err
	}
	for _, d := range set.Sorted() {
		fmt.Fprintln(r.out, d)
	}
	if r.depot == nil {
		return nil
	}

	refs, ok, err := r.depot.LoadRefs(ctx)
	if err != nil || !ok {
		return err
	}
	fmt.Fprintln(r.out, refs.LastModified)
	keys := make([]string, 0, len(refs.Metadata))
	for k := range refs.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "%s: %s\n", k, refs.Metadata[k])
	}
	return nil
}

// Verify re-hashes every cache object in parallel and returns the ones whose
// content does not match their name, sorted by path.
func (r *Repo) Verify(ctx context.Context) ([]Mismatch, error) {
	var paths []string
	err := filepath.WalkDir(r.layout.ObjectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrIO.Wrap(err)
	}

	var (
		mu         sync.Mutex
		mismatches []Mismatch
	)
	p := pool.New().WithMaxGoroutines(runtime.NumCPU()).WithContext(ctx).WithCancelOnError()
	for _, path := range paths {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			got, err := digest.File(path)
			if err != nil {
				return err
			}
			if string(got) == filepath.Base(path) {
				return nil
			}
			mu.Lock()
			mismatches = append(mismatches, Mismatch{Path: path, Digest: got})
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Path < mismatches[j].Path })
	r.l.Debug("verified cache", zap.Int("objects", len(paths)), zap.Int("mismatched", len(mismatches)))
	return mismatches, nil
}

// Check prints every corrupt cache object. It fails when any is found.
func (r *Repo) Check(ctx context.Context) error {
	mismatches, err := r.Verify(ctx)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		fmt.Fprintln(r.out, "Error: mismatched content.")
		fmt.Fprintf(r.out, "  Path: %s\n", m.Path)
		fmt.Fprintf(r.out, "  Hash: %s\n", m.Digest)
	}
	if len(mismatches) > 0 {
		return errors.ErrIO.Wrap(fmt.Errorf("%d cache objects do not match their digest", len(mismatches)))
	}
	return nil
}
