package tier

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/aweris/gitbig/internal/depot"
	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/fsys"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	fs       fsys.Filesystem
	layout   entry.Layout
	cacheDir string
}

func newFixture(t *testing.T, hasDepot bool) *fixture {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "work")
	cache := filepath.Join(root, "cache")
	require.NoError(t, os.MkdirAll(work, 0o755))
	return &fixture{
		fs:       fsys.Default(),
		layout:   entry.NewLayout(work, cache, hasDepot),
		cacheDir: cache,
	}
}

// write creates a regular working file and returns its entry.
func (f *fixture) write(t *testing.T, rel, content string) *entry.Entry {
	t.Helper()
	e := f.layout.Entry(rel, digest.Bytes([]byte(content)))
	require.NoError(t, os.MkdirAll(filepath.Dir(e.WorkingPath), 0o755))
	require.NoError(t, os.WriteFile(e.WorkingPath, []byte(content), 0o644))
	return e
}

func (f *fixture) local() *Chain {
	return NewChain(NewWorking(f.fs), NewCache(f.fs))
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestChainNames(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, []string{"working", "cache"}, f.local().Names())
}

func TestPutMovesFileIntoCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	e := f.write(t, "data/model.bin", "weights")
	chain := f.local()

	require.NoError(t, chain.Put(ctx, e))

	target, err := os.Readlink(e.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", entry.AnchorsName, e.Digest.String()[0:2], e.Digest.String()[2:4], e.Digest.String()), target)

	got, err := os.ReadFile(e.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(got))

	require.NoError(t, chain.Status(ctx, e))
	assert.Equal(t, entry.Link, e.Presence.Working)
	assert.True(t, e.Presence.IsLinked)
	assert.True(t, e.Presence.InAnchors)
	assert.Equal(t, entry.Locked, e.Presence.Cache)
	assert.False(t, e.Presence.Dirty())
	assert.Equal(t, int64(len("weights")), e.Presence.Size)

	cached, err := os.Stat(e.CachePath)
	require.NoError(t, err)
	anchor, err := os.Stat(e.AnchorPath)
	require.NoError(t, err)
	assert.True(t, os.SameFile(cached, anchor), "anchor is a hardlink of the cache object")
}

func TestPutKeepsFileWhenLinkFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	e := f.write(t, "a.bin", "content")
	require.NoError(t, os.WriteFile(f.layout.AnchorsDir, []byte("in the way"), 0o644))

	require.Error(t, f.local().Put(ctx, e))

	fi, err := os.Lstat(e.WorkingPath)
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
	got, err := os.ReadFile(e.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
	assert.FileExists(t, e.CachePath)
}

func TestPutDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	a := f.write(t, "a.bin", "same bytes")
	b := f.write(t, "nested/b.bin", "same bytes")
	chain := f.local()

	require.NoError(t, chain.Put(ctx, a))
	require.NoError(t, chain.Put(ctx, b))

	assert.Equal(t, 1, countFiles(t, f.layout.ObjectsDir))
	assert.Equal(t, 1, countFiles(t, f.layout.AnchorsDir))

	resolve := func(e *entry.Entry) string {
		target, err := os.Readlink(e.WorkingPath)
		require.NoError(t, err)
		return filepath.Clean(filepath.Join(filepath.Dir(e.WorkingPath), target))
	}
	assert.Equal(t, resolve(a), resolve(b))
	assert.Equal(t, a.AnchorPath, resolve(a))
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	e := f.write(t, "a.bin", "content")
	chain := f.local()
	require.NoError(t, chain.Put(ctx, e))

	before, err := os.Stat(e.CachePath)
	require.NoError(t, err)

	require.NoError(t, chain.Put(ctx, e))

	after, err := os.Stat(e.CachePath)
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after))
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.Equal(t, 1, countFiles(t, f.layout.ObjectsDir))
}

func TestPutChangedContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	chain := f.local()
	old := f.write(t, "a.bin", "v1")
	require.NoError(t, chain.Put(ctx, old))

	require.NoError(t, os.Remove(old.WorkingPath))
	changed := f.write(t, "a.bin", "v2")
	require.NoError(t, chain.Put(ctx, changed))

	assert.NotEqual(t, old.Digest, changed.Digest)
	assert.FileExists(t, old.CachePath, "old object stays until collected")
	assert.FileExists(t, changed.CachePath)
	got, err := os.ReadFile(changed.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestCacheIsReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores permission bits")
	}
	ctx := context.Background()
	f := newFixture(t, false)
	e := f.write(t, "a.bin", "protected")
	require.NoError(t, f.local().Put(ctx, e))

	for _, p := range []string{e.CachePath, e.AnchorPath, e.WorkingPath} {
		_, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
		require.Error(t, err, p)
		assert.ErrorIs(t, err, fs.ErrPermission)
	}
}

func TestGetLinksFromCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	src := f.write(t, "a.bin", "shared")
	require.NoError(t, f.local().Put(ctx, src))
	require.NoError(t, os.RemoveAll(f.layout.AnchorsDir))

	var linked []string
	chain := NewChain(NewWorking(f.fs, OnLink(func(e *entry.Entry) { linked = append(linked, e.RelPath) })), NewCache(f.fs))
	dst := f.layout.Entry("copy/of/a.bin", src.Digest)
	require.NoError(t, chain.Get(ctx, dst))

	got, err := os.ReadFile(dst.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(got))
	assert.Equal(t, []string{"copy/of/a.bin"}, linked)

	linked = nil
	require.NoError(t, chain.Get(ctx, dst))
	assert.Empty(t, linked, "already linked")
}

func TestGetDirtyFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	src := f.write(t, "a.bin", "tracked")
	require.NoError(t, f.local().Put(ctx, src))

	dirty := f.layout.Entry("b.bin", src.Digest)
	require.NoError(t, os.WriteFile(dirty.WorkingPath, []byte("user edits"), 0o644))

	err := f.local().Get(ctx, dirty)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDirtyFile))

	got, err := os.ReadFile(dirty.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, "user edits", string(got))

	require.NoError(t, f.local().Status(ctx, dirty))
	assert.True(t, dirty.Presence.Dirty())
	assert.Equal(t, entry.Copy, dirty.Presence.Working)
}

func TestGetRepointsForeignSymlink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	e := f.write(t, "a.bin", "tracked")
	require.NoError(t, f.local().Put(ctx, e))

	other := filepath.Join(f.layout.WorkingDir, "elsewhere")
	require.NoError(t, os.WriteFile(other, []byte("other"), 0o644))
	require.NoError(t, os.Remove(e.WorkingPath))
	require.NoError(t, os.Symlink("elsewhere", e.WorkingPath))

	require.NoError(t, f.local().Status(ctx, e))
	assert.False(t, e.Presence.IsLinked)

	require.NoError(t, f.local().Get(ctx, e))
	target, err := os.Readlink(e.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, e.SymlinkTarget, target)
}

func TestGetMissingObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	e := f.layout.Entry("a.bin", digest.Bytes([]byte("never added")))

	err := f.local().Get(ctx, e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrObjectMissing))
	_, err = os.Lstat(e.WorkingPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.local().Status(ctx, e))
	assert.Equal(t, entry.Presence{}, e.Presence)
}

func TestCachePutRequiresObject(t *testing.T) {
	f := newFixture(t, false)
	e := f.layout.Entry("a.bin", digest.Bytes([]byte("x")))
	err := NewChain(NewCache(f.fs)).Put(context.Background(), e)
	assert.True(t, errors.Is(err, errors.ErrObjectMissing))
}

type uploads struct {
	depot.Backend
	puts int
}

func (u *uploads) PutFile(ctx context.Context, p, src string) error {
	u.puts++
	return u.Backend.PutFile(ctx, p, src)
}

func newDepot(t *testing.T, b depot.Backend, cacheDir string) *depot.Depot {
	t.Helper()
	return depot.New(b, depot.NewIndex(filepath.Join(cacheDir, "index")), "uuid")
}

func TestDepotRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := &uploads{Backend: depot.NewLocal(afero.NewMemMapFs(), "mem")}

	origin := newFixture(t, true)
	e := origin.write(t, "assets/big.iso", "iso bytes")
	require.NoError(t, origin.local().Put(ctx, e))

	d := newDepot(t, remote, origin.cacheDir)
	push := NewChain(NewCache(origin.fs), NewDepot(origin.fs, d, filepath.Join(origin.cacheDir, "tmp"), nil))
	require.NoError(t, push.Put(ctx, e))
	require.NoError(t, push.Put(ctx, e))
	assert.Equal(t, 1, remote.puts, "existing objects are not uploaded again")

	clone := newFixture(t, true)
	ce := clone.layout.Entry(e.RelPath, e.Digest)
	cd := newDepot(t, remote, clone.cacheDir)
	pull := NewChain(NewWorking(clone.fs), NewCache(clone.fs), NewDepot(clone.fs, cd, filepath.Join(clone.cacheDir, "tmp"), nil))

	require.NoError(t, pull.Status(ctx, ce))
	assert.Equal(t, entry.Absent, ce.Presence.Cache)
	assert.Equal(t, entry.Copy, ce.Presence.Depot)
	assert.Equal(t, int64(len("iso bytes")), ce.Presence.Size)

	require.NoError(t, pull.Get(ctx, ce))
	got, err := os.ReadFile(ce.WorkingPath)
	require.NoError(t, err)
	assert.Equal(t, "iso bytes", string(got))

	require.NoError(t, pull.Status(ctx, ce))
	assert.True(t, ce.Presence.IsLinked)
	assert.Equal(t, entry.Locked, ce.Presence.Cache)
	assert.Equal(t, 0, countFiles(t, filepath.Join(clone.cacheDir, "tmp")))

	fi, err := os.Stat(ce.CachePath)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o444), fi.Mode().Perm(), "downloads lock like added files")
}

func TestDepotGetMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	d := newDepot(t, depot.NewLocal(afero.NewMemMapFs(), "mem"), f.cacheDir)
	e := f.layout.Entry("a.bin", digest.Bytes([]byte("nowhere")))
	chain := NewChain(NewWorking(f.fs), NewCache(f.fs), NewDepot(f.fs, d, filepath.Join(f.cacheDir, "tmp"), nil))

	err := chain.Get(ctx, e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrObjectMissing))
	assert.NoFileExists(t, e.CachePath)
}

func TestDepotGetRejectsCorruptObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	mem := afero.NewMemMapFs()
	b := depot.NewLocal(mem, "mem")

	e := f.layout.Entry("a.bin", digest.Bytes([]byte("expected")))
	require.NoError(t, afero.WriteFile(mem, depot.ObjectPath(e.Digest), []byte("tampered"), 0o644))

	chain := NewChain(NewCache(f.fs), NewDepot(f.fs, newDepot(t, b, f.cacheDir), filepath.Join(f.cacheDir, "tmp"), nil))
	err := chain.Get(ctx, e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIO))
	assert.NoFileExists(t, e.CachePath)
}
