package gitbig

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/depot"
	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/git"
	"github.com/aweris/gitbig/internal/manifest"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type testRepo struct {
	dir   string
	cache string
	out   *bytes.Buffer
	git   *git.Git
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if !git.Available() {
		t.Skip("git not installed")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	root := t.TempDir()
	tr := &testRepo{
		dir:   filepath.Join(root, "work"),
		cache: filepath.Join(root, "cache"),
		out:   &bytes.Buffer{},
	}
	require.NoError(t, os.MkdirAll(tr.dir, 0o755))
	tr.git = git.New(tr.dir, nil)
	tr.run(t, "init", "-q")
	tr.run(t, "symbolic-ref", "HEAD", "refs/heads/main")
	tr.run(t, "config", "user.name", "Test")
	tr.run(t, "config", "user.email", "test@example.com")
	tr.run(t, "config", "commit.gpgsign", "false")
	return tr
}

func (tr *testRepo) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := tr.git.Output(context.Background(), args...)
	require.NoError(t, err, "git %v", args)
	return out
}

func testViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	require.NoError(t, config.Setup(v, ""))
	return v
}

func (tr *testRepo) open(t *testing.T, opts ...OpenOption) *Repo {
	t.Helper()
	base := []OpenOption{
		WithDir(tr.dir),
		WithCacheDir(tr.cache),
		WithViper(testViper(t)),
		WithOutput(tr.out),
	}
	r, err := Open(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	return r
}

func (tr *testRepo) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(tr.dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (tr *testRepo) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(tr.dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func (tr *testRepo) staged(t *testing.T) []string {
	t.Helper()
	return strings.Fields(tr.run(t, "ls-files"))
}

func isSymlink(t *testing.T, p string) bool {
	t.Helper()
	fi, err := os.Lstat(p)
	require.NoError(t, err)
	return fi.Mode()&os.ModeSymlink != 0
}

func newMemBackend() (Backend, afero.Fs) {
	fs := afero.NewMemMapFs()
	return depot.NewLocal(fs, "mem"), fs
}

func TestOpenOutsideRepository(t *testing.T) {
	if !git.Available() {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_CEILING_DIRECTORIES", os.TempDir())
	_, err := Open(context.Background(), WithDir(t.TempDir()), WithViper(testViper(t)))
	require.Error(t, err)
}

func TestAddTracksFile(t *testing.T) {
	tr := newTestRepo(t)
	p := tr.write(t, "hello.txt", "hello")
	r := tr.open(t)

	require.NoError(t, r.Add(context.Background(), "hello.txt"))

	assert.True(t, isSymlink(t, p))
	assert.Equal(t, "hello", tr.read(t, "hello.txt"))
	assert.Equal(t, map[string]string{"hello.txt": helloDigest}, r.Files())

	m, err := manifest.Load(filepath.Join(tr.dir, entry.ManifestName))
	require.NoError(t, err)
	assert.Equal(t, digest.Digest(helloDigest), m.Files["hello.txt"])

	obj := filepath.Join(tr.cache, "objects", "2c", "f2", helloDigest)
	fi, err := os.Stat(obj)
	require.NoError(t, err)
	assert.Zero(t, fi.Mode().Perm()&0o222)

	assert.ElementsMatch(t, []string{".gitbig", "hello.txt"}, tr.staged(t))

	exclude, err := os.ReadFile(filepath.Join(tr.dir, ".git", "info", "exclude"))
	require.NoError(t, err)
	assert.Contains(t, string(exclude), "/.gitbig-anchors\n")

	uuid, ok, err := tr.git.ConfigGet(context.Background(), config.GitUUID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, r.UUID(), uuid)
}

func TestAddWalksDirectoriesAndDeduplicates(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "data/a.bin", "same")
	tr.write(t, "data/nested/b.bin", "same")
	tr.write(t, "data/c.bin", "other")
	require.NoError(t, os.Symlink("a.bin", filepath.Join(tr.dir, "data", "link")))
	r := tr.open(t)

	require.NoError(t, r.Add(context.Background(), "data"))

	files := r.Files()
	assert.Len(t, files, 3)
	assert.Equal(t, files["data/a.bin"], files["data/nested/b.bin"])
	assert.NotContains(t, files, "data/link")

	var objects int
	require.NoError(t, filepath.Walk(filepath.Join(tr.cache, "objects"), func(_ string, fi os.FileInfo, err error) error {
		if err == nil && fi.Mode().IsRegular() {
			objects++
		}
		return err
	}))
	assert.Equal(t, 2, objects)
}

func TestAddRejectsPathsOutsideRepository(t *testing.T) {
	tr := newTestRepo(t)
	outside := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	r := tr.open(t)

	err := r.Add(context.Background(), outside)
	assert.True(t, errors.Is(err, ErrUsage))
	assert.Empty(t, r.Files())
}

func TestAddIsIdempotent(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	r := tr.open(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "hello.txt"))
	require.NoError(t, r.Add(ctx, "hello.txt"))
	assert.Equal(t, map[string]string{"hello.txt": helloDigest}, r.Files())
	assert.Equal(t, "hello", tr.read(t, "hello.txt"))
}

func TestRemove(t *testing.T) {
	tr := newTestRepo(t)
	p := tr.write(t, "hello.txt", "hello")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))
	tr.run(t, "commit", "-q", "-m", "add")

	require.NoError(t, r.Remove(ctx, "hello.txt"))

	_, err := os.Lstat(p)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, r.Files())
	assert.Contains(t, tr.out.String(), "hello.txt\n")
	_, err = os.Stat(filepath.Join(tr.dir, entry.ManifestName))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, tr.staged(t))

	// the cached bytes survive
	_, err = os.Stat(filepath.Join(tr.cache, "objects", "2c", "f2", helloDigest))
	assert.NoError(t, err)
}

func TestRemoveUntracked(t *testing.T) {
	tr := newTestRepo(t)
	p := tr.write(t, "plain.txt", "not tracked")
	r := tr.open(t)

	err := r.Remove(context.Background(), "plain.txt")
	assert.True(t, errors.Is(err, ErrUsage))
	_, err = os.Stat(p)
	assert.NoError(t, err)
}

func TestUnlock(t *testing.T) {
	tr := newTestRepo(t)
	p := tr.write(t, "hello.txt", "hello")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))

	require.NoError(t, r.Unlock(ctx, "hello.txt"))

	assert.False(t, isSymlink(t, p))
	assert.Equal(t, "hello", tr.read(t, "hello.txt"))
	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode().Perm()&0o200)
	assert.Empty(t, r.Files())

	// the copy is independent of the cache
	require.NoError(t, os.WriteFile(p, []byte("edited"), 0o644))
	cached, err := os.ReadFile(filepath.Join(tr.cache, "objects", "2c", "f2", helloDigest))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(cached))
}

func TestCopyAndMove(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	require.NoError(t, os.MkdirAll(filepath.Join(tr.dir, "sub"), 0o755))
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))

	require.NoError(t, r.Copy(ctx, []string{"hello.txt"}, "copy.txt"))
	assert.Equal(t, "hello", tr.read(t, "copy.txt"))
	assert.True(t, isSymlink(t, filepath.Join(tr.dir, "copy.txt")))

	require.NoError(t, r.Move(ctx, []string{"copy.txt"}, "sub"))
	assert.Equal(t, "hello", tr.read(t, "sub/copy.txt"))
	_, err := os.Lstat(filepath.Join(tr.dir, "copy.txt"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, map[string]string{
		"hello.txt":    helloDigest,
		"sub/copy.txt": helloDigest,
	}, r.Files())
	assert.ElementsMatch(t, []string{".gitbig", "hello.txt", "sub/copy.txt"}, tr.staged(t))
}

func TestCopyErrors(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	tr.write(t, "other.txt", "other")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))

	err := r.Copy(ctx, []string{"hello.txt", "other.txt"}, "missing-dir")
	assert.True(t, errors.Is(err, ErrUsage))

	err = r.Copy(ctx, []string{"other.txt"}, "b.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source not in index")

	err = r.Copy(ctx, []string{"hello.txt"}, filepath.Join(t.TempDir(), "out.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination must be inside repository")

	err = r.Move(ctx, []string{"hello.txt"}, "other.txt")
	assert.True(t, errors.Is(err, ErrDirtyFile))
	assert.Equal(t, "other", tr.read(t, "other.txt"))
}

func TestStatus(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	tr.write(t, "dirty.txt", "dirty")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt", "dirty.txt"))
	dirty := filepath.Join(tr.dir, "dirty.txt")
	require.NoError(t, os.Remove(dirty))
	require.NoError(t, os.WriteFile(dirty, []byte("user data"), 0o644))
	tr.out.Reset()

	require.NoError(t, r.Status(ctx))

	want := strings.Join([]string{
		"On branch main",
		"",
		"  Working",
		"    Cache",
		"      Depot",
		"          SHA-256    Size Path",
		"[ * C   ] " + digest.Bytes([]byte("dirty")).Short() + "     9B dirty.txt",
		"[ W C   ] 2cf24dba     5B hello.txt",
		"",
		"",
	}, "\n")
	assert.Equal(t, want, tr.out.String())
}

func TestStatusShowsDepot(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	backend, _ := newMemBackend()
	r := tr.open(t, WithBackend(backend))
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))
	tr.run(t, "commit", "-q", "-m", "add")
	require.NoError(t, r.Push(ctx))

	statuses, err := r.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	p := statuses[0].Presence
	assert.True(t, p.IsLinked)
	assert.Equal(t, entry.Locked, p.Cache)
	assert.True(t, p.Depot.Present())
	assert.Equal(t, int64(5), p.DepotSize)
}

func TestPushRequiresDepot(t *testing.T) {
	tr := newTestRepo(t)
	r := tr.open(t)
	ctx := context.Background()

	assert.True(t, errors.Is(r.Push(ctx), ErrDepotUnconfigured))
	assert.True(t, errors.Is(r.Drop(ctx), ErrDepotUnconfigured))
	assert.True(t, errors.Is(r.Pull(ctx, nil, PullOptions{Hard: true}), ErrDepotUnconfigured))
}

func TestPushFreshPullRoundTrip(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	tr.write(t, "assets/model.bin", "\x00\x01 weights \xff")
	backend, store := newMemBackend()
	a := tr.open(t, WithBackend(backend))
	ctx := context.Background()
	require.NoError(t, a.Add(ctx, "hello.txt", "assets"))
	tr.run(t, "commit", "-q", "-m", "add")
	require.NoError(t, a.Push(ctx))

	ok, err := afero.Exists(store, "objects/"+helloDigest)
	require.NoError(t, err)
	assert.True(t, ok)
	refs, err := afero.ReadFile(store, "refs/"+a.UUID())
	require.NoError(t, err)
	assert.Contains(t, string(refs), helloDigest)

	// a second clone with an empty cache
	cloneDir := filepath.Join(t.TempDir(), "clone")
	out := &bytes.Buffer{}
	b, err := Clone(ctx, tr.dir, CloneOptions{Dir: cloneDir, Hard: true, Stderr: out},
		WithCacheDir(filepath.Join(t.TempDir(), "cache")),
		WithViper(testViper(t)),
		WithBackend(backend),
		WithOutput(out),
	)
	require.NoError(t, err)
	assert.NotEqual(t, a.UUID(), b.UUID())

	for rel := range a.Files() {
		want, err := os.ReadFile(filepath.Join(tr.dir, rel))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(cloneDir, rel))
		require.NoError(t, err)
		assert.Equal(t, want, got, rel)
	}

	ok, err = afero.Exists(store, "refs/"+b.UUID())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Drop(ctx))
	ok, err = afero.Exists(store, "refs/"+b.UUID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPullDirtyFile(t *testing.T) {
	tr := newTestRepo(t)
	p := tr.write(t, "hello.txt", "hello")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))
	require.NoError(t, os.Remove(p))
	require.NoError(t, os.WriteFile(p, []byte("user data"), 0o644))

	err := r.Pull(ctx, nil, PullOptions{})
	assert.True(t, errors.Is(err, ErrDirtyFile))
	assert.Contains(t, tr.out.String(), `Pull aborted, dirty file detected: "hello.txt"`)
	assert.Equal(t, "user data", tr.read(t, "hello.txt"))
}

func TestPullRelinksDeletedFiles(t *testing.T) {
	tr := newTestRepo(t)
	p := tr.write(t, "hello.txt", "hello")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))
	require.NoError(t, os.Remove(p))
	require.NoError(t, os.RemoveAll(filepath.Join(tr.dir, entry.AnchorsName)))
	tr.out.Reset()

	require.NoError(t, r.Pull(ctx, nil, PullOptions{}))
	assert.Equal(t, "hello", tr.read(t, "hello.txt"))
	assert.Equal(t, "Linking: 2cf24dba -> hello.txt\n", tr.out.String())
}

func TestPullSoftMissingWarns(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	ctx := context.Background()
	require.NoError(t, tr.open(t).Add(ctx, "hello.txt"))

	// same repository, empty cache
	r := tr.open(t, WithCacheDir(filepath.Join(t.TempDir(), "cache")))
	require.NoError(t, r.Pull(ctx, nil, PullOptions{}))
	assert.Contains(t, tr.out.String(), `File "hello.txt" not available locally; use `+"`git big pull --hard`"+` to download it`)
}

func TestPullHardMissingFails(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	ctx := context.Background()
	require.NoError(t, tr.open(t).Add(ctx, "hello.txt"))

	backend, _ := newMemBackend()
	r := tr.open(t, WithCacheDir(filepath.Join(t.TempDir(), "cache")), WithBackend(backend))
	err := r.Pull(ctx, []string{"hello.txt"}, PullOptions{})
	assert.True(t, errors.Is(err, ErrObjectMissing))
}

func TestPullUnknownPath(t *testing.T) {
	tr := newTestRepo(t)
	r := tr.open(t)

	err := r.Pull(context.Background(), []string{"nope.bin"}, PullOptions{})
	assert.True(t, errors.Is(err, ErrUsage))
	assert.Contains(t, tr.out.String(), "Nothing to pull.")
}

func TestPullExtra(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	backend, _ := newMemBackend()
	r := tr.open(t, WithBackend(backend))
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))

	extra := filepath.Join(t.TempDir(), "out", "hello.copy")
	require.NoError(t, r.Pull(ctx, []string{"hello.txt"}, PullOptions{Extra: extra}))

	data, err := os.ReadFile(extra)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Contains(t, tr.out.String(), "Linking: 2cf24dba -> "+extra)
}

func TestInitInstallsHooksAndAttributes(t *testing.T) {
	tr := newTestRepo(t)
	hooks := filepath.Join(tr.dir, ".git", "hooks")
	require.NoError(t, os.MkdirAll(hooks, 0o755))
	foreign := "#!/bin/sh\necho mine\n"
	require.NoError(t, os.WriteFile(filepath.Join(hooks, HookPostMerge), []byte(foreign), 0o755))
	r := tr.open(t)
	ctx := context.Background()

	require.NoError(t, r.Init(ctx))
	require.NoError(t, r.Init(ctx))

	for hook, args := range map[string]string{
		HookPrePush:      "$1 $2",
		HookPostCheckout: "$1 $2 $3",
		HookPostMerge:    "$1",
	} {
		data, err := os.ReadFile(filepath.Join(hooks, hook))
		require.NoError(t, err)
		assert.Equal(t, "#!/bin/sh\nexec git big hooks "+hook+" "+args+"\n", string(data))
	}
	chained, err := os.ReadFile(filepath.Join(hooks, HookPostMerge+".git-big"))
	require.NoError(t, err)
	assert.Equal(t, foreign, string(chained))

	attrs, err := os.ReadFile(filepath.Join(tr.dir, ".gitattributes"))
	require.NoError(t, err)
	assert.Equal(t, ".gitbig merge=git-big\n", string(attrs))
	assert.Contains(t, tr.staged(t), ".gitattributes")

	driver, ok, err := tr.git.ConfigGet(ctx, config.GitMergeDriver)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "git big merge-driver %O %A %B", driver)
}

func TestRunHook(t *testing.T) {
	tr := newTestRepo(t)
	hooks := filepath.Join(tr.dir, ".git", "hooks")
	require.NoError(t, os.MkdirAll(hooks, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hooks, HookPostMerge), []byte("#!/bin/sh\n"), 0o755))
	p := tr.write(t, "hello.txt", "hello")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))
	require.NoError(t, r.Add(ctx, "hello.txt"))
	require.NoError(t, os.Remove(p))

	next, err := r.RunHook(ctx, HookPostMerge)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.GitDir(), "hooks", HookPostMerge+".git-big"), next)
	assert.Equal(t, "hello", tr.read(t, "hello.txt"))

	next, err = r.RunHook(ctx, HookPostCheckout)
	require.NoError(t, err)
	assert.Empty(t, next)

	// without a depot pre-push lets git push go ahead
	next, err = r.RunHook(ctx, HookPrePush)
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = r.RunHook(ctx, "pre-commit")
	assert.True(t, errors.Is(err, ErrUsage))
}

func TestSetDepot(t *testing.T) {
	tr := newTestRepo(t)
	r := tr.open(t)
	ctx := context.Background()
	storage := t.TempDir()

	require.NoError(t, r.SetDepot(ctx, DepotConfig{URL: "file://" + storage}))
	assert.False(t, r.HasDepot())
	assert.True(t, tr.open(t).HasDepot())
}

func TestCheck(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	tr.write(t, "other.txt", "other")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt", "other.txt"))
	tr.out.Reset()

	require.NoError(t, r.Check(ctx))
	assert.Empty(t, tr.out.String())

	obj := filepath.Join(tr.cache, "objects", "2c", "f2", helloDigest)
	require.NoError(t, os.Chmod(obj, 0o644))
	require.NoError(t, os.WriteFile(obj, []byte("corrupt"), 0o644))

	err := r.Check(ctx)
	assert.True(t, errors.Is(err, ErrIO))
	assert.Equal(t, "Error: mismatched content.\n"+
		"  Path: "+obj+"\n"+
		"  Hash: "+digest.Bytes([]byte("corrupt")).String()+"\n", tr.out.String())
}

func TestListReachable(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "hello.txt", "hello")
	backend, _ := newMemBackend()
	r := tr.open(t, WithBackend(backend))
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "hello.txt"))
	tr.run(t, "commit", "-q", "-m", "add")
	require.NoError(t, r.Remove(ctx, "hello.txt"))
	tr.run(t, "commit", "-q", "-m", "remove")

	set, err := r.Reachable(ctx)
	require.NoError(t, err)
	assert.True(t, set.Has(helloDigest))

	require.NoError(t, r.Push(ctx))
	tr.out.Reset()
	require.NoError(t, r.ListReachable(ctx))
	lines := strings.Split(strings.TrimSpace(tr.out.String()), "\n")
	assert.Equal(t, helloDigest, lines[0])
	assert.Contains(t, tr.out.String(), "path: "+r.GitDir())
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, files map[string]digest.Digest) string {
		m := manifest.New()
		for p, d := range files {
			m.Set(p, d)
		}
		p := filepath.Join(dir, name)
		_, err := m.Save(p)
		require.NoError(t, err)
		return p
	}
	d := func(s string) digest.Digest { return digest.Bytes([]byte(s)) }
	ours := write("ours", map[string]digest.Digest{"a": d("1"), "b": d("2")})
	theirs := write("theirs", map[string]digest.Digest{"b": d("3"), "c": d("4")})

	require.NoError(t, Merge(filepath.Join(dir, "base"), ours, theirs))

	m, err := manifest.Load(ours)
	require.NoError(t, err)
	assert.Equal(t, map[string]digest.Digest{"a": d("1"), "b": d("3"), "c": d("4")}, m.Files)
}

func TestCloneDir(t *testing.T) {
	for url, want := range map[string]string{
		"https://example.com/org/project.git": "project",
		"git@example.com:org/project.git":     "project",
		"git@example.com:project":             "project",
		"/srv/repos/project/":                 "project",
	} {
		assert.Equal(t, want, cloneDir(url), url)
	}
}

func TestEnsureLine(t *testing.T) {
	p := filepath.Join(t.TempDir(), "info", "exclude")

	changed, err := ensureLine(p, "/.gitbig-anchors")
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, os.WriteFile(p, []byte("# comment\n/.gitbig-anchors"), 0o644))
	changed, err = ensureLine(p, "/.gitbig-anchors")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = ensureLine(p, "*.tmp")
	require.NoError(t, err)
	assert.True(t, changed)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "# comment\n/.gitbig-anchors\n*.tmp\n", string(data))
}

func TestOpenRejectsUnsafeManifest(t *testing.T) {
	tr := newTestRepo(t)
	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("TOP-SECRET"), 0o644))
	traversal := strings.Repeat("../", 20) + strings.TrimPrefix(secret, "/")

	for name, doc := range map[string]string{
		"digest": `{"version": 1, "files": {"innocent.bin": "` + traversal + `"}}`,
		"path":   `{"version": 1, "files": {"../innocent.bin": "` + helloDigest + `"}}`,
	} {
		tr.write(t, entry.ManifestName, doc)
		tr.run(t, "add", entry.ManifestName)
		tr.run(t, "commit", "-q", "-m", name)

		backend, store := newMemBackend()
		_, err := Open(context.Background(),
			WithDir(tr.dir),
			WithCacheDir(tr.cache),
			WithViper(testViper(t)),
			WithOutput(tr.out),
			WithBackend(backend),
		)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "invalid", name)

		_, err = os.Lstat(filepath.Join(tr.dir, "innocent.bin"))
		assert.True(t, os.IsNotExist(err), name)
		_, err = os.Lstat(filepath.Join(filepath.Dir(tr.dir), "innocent.bin"))
		assert.True(t, os.IsNotExist(err), name)
		ok, err := afero.DirExists(store, "objects")
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
}

func TestMoveOntoItself(t *testing.T) {
	tr := newTestRepo(t)
	p := tr.write(t, "a.bin", "hello")
	r := tr.open(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "a.bin"))

	for _, dst := range []string{"a.bin", ".", "./a.bin"} {
		err := r.Move(ctx, []string{"a.bin"}, dst)
		assert.True(t, errors.Is(err, ErrUsage), dst)
		err = r.Copy(ctx, []string{"a.bin"}, dst)
		assert.True(t, errors.Is(err, ErrUsage), dst)
	}

	assert.True(t, isSymlink(t, p))
	assert.Equal(t, "hello", tr.read(t, "a.bin"))
	assert.Equal(t, map[string]string{"a.bin": helloDigest}, r.Files())
	assert.ElementsMatch(t, []string{".gitbig", "a.bin"}, tr.staged(t))
}
