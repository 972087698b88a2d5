package depot

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"go.uber.org/zap"
)

// Depot is the remote tier: a Backend behind the local presence index.
type Depot struct {
	backend  Backend
	index    *Index
	uuid     string
	timeout  time.Duration
	attempts int
	l        *zap.Logger
}

// Option configures a Depot.
type Option func(*Depot)

// WithTimeout bounds every backend call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(dp *Depot) { dp.timeout = d }
}

// WithAttempts sets how many times a failing backend call is tried.
func WithAttempts(n int) Option {
	return func(dp *Depot) {
		if n > 0 {
			dp.attempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(dp *Depot) {
		if l != nil {
			dp.l = l
		}
	}
}

// New returns a Depot for the clone identified by uuid.
func New(b Backend, index *Index, uuid string, opts ...Option) *Depot {
	d := &Depot{
		backend:  b,
		index:    index,
		uuid:     uuid,
		timeout:  config.DefaultTimeout,
		attempts: config.DefaultRetries,
		l:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Depot) String() string { return d.backend.String() }

// Index returns the presence index.
func (d *Depot) Index() *Index { return d.index }

// RefsPath is where this clone's liveness report lives.
func (d *Depot) RefsPath() string { return entry.DepotRefsPrefix + d.uuid }

// ObjectPath is where the content of dg lives.
func ObjectPath(dg digest.Digest) string { return entry.DepotObjectsPrefix + string(dg) }

// Stat returns the depot size of dg, consulting the index before the
// backend. Objects found remotely are added to the index.
func (d *Depot) Stat(ctx context.Context, dg digest.Digest) (int64, bool, error) {
	size, ok, err := d.index.Has(dg)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return size, true, nil
	}

	type stat struct {
		size int64
		ok   bool
	}
	st, err := retry(ctx, d.attempts, d.timeout, func(ctx context.Context) (stat, error) {
		size, ok, err := d.backend.HasObject(ctx, ObjectPath(dg))
		return stat{size, ok}, err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to stat %s: %w", dg.Short(), err)
	}
	if !st.ok {
		return 0, false, nil
	}
	if err := d.index.Add(dg, st.size); err != nil {
		return 0, false, err
	}
	return st.size, true, nil
}

// Download streams dg into the local file dest and records it in the index.
// An object the index vouched for but the backend no longer has is evicted
// from the index and reported as ErrStaleIndexEntry.
func (d *Depot) Download(ctx context.Context, dg digest.Digest, dest string) error {
	_, indexed, err := d.index.Has(dg)
	if err != nil {
		return err
	}

	d.l.Debug("download", zap.String("digest", dg.String()), zap.String("dest", dest))
	_, err = retry(ctx, d.attempts, d.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.backend.GetFile(ctx, ObjectPath(dg), dest)
	})
	if errors.Is(err, errors.ErrNotExists) {
		missing := errors.ErrObjectMissing.Wrap(fmt.Errorf("%s not in depot", dg))
		if !indexed {
			return missing
		}
		if rerr := d.index.Remove(dg); rerr != nil {
			d.l.Warn("failed to evict stale index entry", zap.Error(rerr))
		}
		return errors.ErrStaleIndexEntry.Wrap(missing)
	}
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", dg.Short(), err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	return d.index.Add(dg, fi.Size())
}

// Upload streams the local file src as dg and records it in the index.
func (d *Depot) Upload(ctx context.Context, dg digest.Digest, src string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}

	d.l.Debug("upload", zap.String("digest", dg.String()), zap.Int64("size", fi.Size()))
	_, err = retry(ctx, d.attempts, d.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.backend.PutFile(ctx, ObjectPath(dg), src)
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", dg.Short(), err)
	}
	return d.index.Add(dg, fi.Size())
}

// Refs is a clone's liveness report.
type Refs struct {
	Digests      []digest.Digest
	Metadata     map[string]string
	LastModified time.Time
}

// LoadRefs reads this clone's liveness report. ok is false when none exists.
func (d *Depot) LoadRefs(ctx context.Context) (*Refs, bool, error) {
	type result struct {
		blob *Blob
		ok   bool
	}
	res, err := retry(ctx, d.attempts, d.timeout, func(ctx context.Context) (result, error) {
		b, ok, err := d.backend.GetBlob(ctx, d.RefsPath())
		return result{b, ok}, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to load refs: %w", err)
	}
	if !res.ok {
		return nil, false, nil
	}

	refs := &Refs{Metadata: res.blob.Metadata, LastModified: res.blob.LastModified}
	for _, line := range strings.Split(string(res.blob.Data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			refs.Digests = append(refs.Digests, digest.Digest(line))
		}
	}
	return refs, true, nil
}

// SaveRefs replaces this clone's liveness report with digests.
func (d *Depot) SaveRefs(ctx context.Context, digests []digest.Digest, metadata map[string]string) error {
	lines := make([]string, len(digests))
	for i, dg := range digests {
		lines[i] = string(dg)
	}
	sort.Strings(lines)
	data := []byte(strings.Join(lines, "\n"))

	_, err := retry(ctx, d.attempts, d.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.backend.PutBlob(ctx, d.RefsPath(), data, metadata)
	})
	if err != nil {
		return fmt.Errorf("failed to save refs: %w", err)
	}
	return nil
}

// DeleteRefs removes this clone's liveness report.
func (d *Depot) DeleteRefs(ctx context.Context) error {
	return d.Delete(ctx, d.RefsPath())
}

// Delete removes path from the depot. Deleting a content object also evicts
// it from the presence index.
func (d *Depot) Delete(ctx context.Context, path string) error {
	_, err := retry(ctx, d.attempts, d.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.backend.DeleteBlob(ctx, path)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	if name, ok := strings.CutPrefix(path, entry.DepotObjectsPrefix); ok && digest.Valid(name) {
		return d.index.Remove(digest.Digest(name))
	}
	return nil
}
