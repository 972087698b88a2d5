package gitbig

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/depot"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/fsys"
	"github.com/aweris/gitbig/internal/git"
	"github.com/aweris/gitbig/internal/manifest"
	"github.com/aweris/gitbig/internal/tier"
	"go.uber.org/zap"
)

const (
	excludeFile  = "info/exclude"
	excludeLine  = "/" + entry.AnchorsName
	indexName    = "index"
	tmpName      = "tmp"
	objectsPerms = 0o755
)

// Repo is a git repository with git-big state attached.
type Repo struct {
	git      *git.Git
	info     *git.Repository
	dir      string
	config   *config.Config
	layout   entry.Layout
	manifest *manifest.Manifest
	depot    *depot.Depot
	fs       fsys.Filesystem
	out      io.Writer
	l        *zap.Logger
}

// Open discovers the repository containing the configured directory and
// loads its manifest and configuration.
func Open(ctx context.Context, opts ...OpenOption) (*Repo, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	var err error
	v := options.Viper
	if v == nil {
		if v, err = newViper(); err != nil {
			return nil, err
		}
	}

	dir, err := filepath.Abs(options.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", options.Dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	g := git.New(dir, options.Logger)
	info, err := g.Discover(ctx)
	if err != nil {
		return nil, err
	}
	// Later git calls run from the top level so manifest paths resolve.
	g = git.New(info.WorkingDir, options.Logger)

	cfg, err := config.Load(ctx, v, g)
	if err != nil {
		return nil, err
	}
	if options.CacheDir != "" {
		cfg.CacheDir = options.CacheDir
	}
	if cfg.CacheDir, err = filepath.Abs(cfg.CacheDir); err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.CacheDir, entry.ObjectsName), objectsPerms); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	r := &Repo{
		git:    g,
		info:   info,
		dir:    dir,
		config: cfg,
		fs:     options.FS,
		out:    options.Out,
		l:      options.Logger,
	}

	backend := options.Backend
	if backend == nil && cfg.Depot != nil {
		if backend, err = depot.OpenBackend(*cfg.Depot, r.l); err != nil {
			return nil, err
		}
	}
	if backend != nil {
		dopts := []depot.Option{depot.WithLogger(r.l)}
		if cfg.Depot != nil {
			dopts = append(dopts, depot.WithTimeout(cfg.Depot.Timeout), depot.WithAttempts(cfg.Depot.Retries))
		}
		index := depot.NewIndex(filepath.Join(cfg.CacheDir, indexName))
		r.depot = depot.New(backend, index, cfg.UUID, dopts...)
	}

	r.layout = entry.NewLayout(info.WorkingDir, cfg.CacheDir, r.depot != nil)
	if r.manifest, err = manifest.Load(r.manifestPath()); err != nil {
		return nil, err
	}

	r.l.Debug("opened repository",
		zap.String("working_dir", info.WorkingDir),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Bool("depot", r.depot != nil),
		zap.Int("files", r.manifest.Len()),
	)
	return r, nil
}

// WorkingDir is the top level of the working tree.
func (r *Repo) WorkingDir() string { return r.info.WorkingDir }

// GitDir is the repository's git directory.
func (r *Repo) GitDir() string { return r.info.GitDir }

// CacheDir is the local object cache root.
func (r *Repo) CacheDir() string { return r.config.CacheDir }

// UUID identifies this clone in the depot.
func (r *Repo) UUID() string { return r.config.UUID }

// HasDepot reports whether a depot is configured.
func (r *Repo) HasDepot() bool { return r.depot != nil }

// Files returns a copy of the manifest's path to digest mapping.
func (r *Repo) Files() map[string]string {
	files := make(map[string]string, r.manifest.Len())
	for p, d := range r.manifest.Files {
		files[p] = string(d)
	}
	return files
}

// LockPath is the process lock shared by every git-big invocation.
func LockPath() string { return config.DefaultLockPath() }

func (r *Repo) manifestPath() string {
	return filepath.Join(r.info.WorkingDir, entry.ManifestName)
}

func (r *Repo) tmpDir() string {
	return filepath.Join(r.config.CacheDir, tmpName)
}

// entries builds the entries for the manifest paths, sorted by path. When
// paths is not empty only the listed paths are returned.
func (r *Repo) entries(paths ...string) []*entry.Entry {
	var want map[string]bool
	if len(paths) > 0 {
		want = make(map[string]bool, len(paths))
		for _, p := range paths {
			want[p] = true
		}
	}
	var entries []*entry.Entry
	for _, p := range r.manifest.Paths() {
		if want != nil && !want[p] {
			continue
		}
		d, _ := r.manifest.Get(p)
		entries = append(entries, r.layout.Entry(p, d))
	}
	return entries
}

func (r *Repo) working(opts ...tier.WorkingOption) *tier.Working {
	return tier.NewWorking(r.fs, append([]tier.WorkingOption{tier.WithWorkingLogger(r.l)}, opts...)...)
}

// localChain is Working→Cache.
func (r *Repo) localChain(opts ...tier.WorkingOption) *tier.Chain {
	return tier.NewChain(r.working(opts...), tier.NewCache(r.fs))
}

// fullChain is Working→Cache→Depot, or the local chain without a depot.
func (r *Repo) fullChain(opts ...tier.WorkingOption) *tier.Chain {
	if r.depot == nil {
		return r.localChain(opts...)
	}
	return tier.NewChain(r.working(opts...), tier.NewCache(r.fs), r.depotTier())
}

func (r *Repo) depotTier() *tier.Depot {
	return tier.NewDepot(r.fs, r.depot, r.tmpDir(), r.l)
}

func (r *Repo) requireDepot() error {
	if r.depot == nil {
		return ErrDepotUnconfigured
	}
	return nil
}

// save persists the repository configuration and the manifest, staging the
// manifest in git.
func (r *Repo) save(ctx context.Context) error {
	if err := config.SaveRepo(ctx, r.git, r.config.UUID); err != nil {
		return err
	}
	r.config.NewUUID = false
	if err := config.EnsureUser(config.UserConfigPath()); err != nil {
		return err
	}

	if !r.info.IsBare {
		removed, err := r.manifest.Save(r.manifestPath())
		if err != nil {
			return err
		}
		switch {
		case r.manifest.Len() > 0:
			if err := r.git.Add(ctx, entry.ManifestName); err != nil {
				return err
			}
		case removed:
			if err := r.git.Remove(ctx, entry.ManifestName); err != nil {
				return err
			}
		}
	}

	_, err := ensureLine(filepath.Join(r.info.GitDir, excludeFile), excludeLine)
	return err
}

// refsMetadata describes this clone in its liveness report.
func (r *Repo) refsMetadata() map[string]string {
	meta := map[string]string{"path": r.info.GitDir}
	if host, err := os.Hostname(); err == nil {
		meta["host"] = host
	}
	if u, err := user.Current(); err == nil {
		meta["user"] = u.Username
	}
	return meta
}

// abs resolves a command line path against the directory the repository
// was opened from.
func (r *Repo) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.dir, p)
}

// relPath maps a command line path to its manifest key.
func (r *Repo) relPath(p string) (string, bool) {
	return r.layout.RelPath(r.abs(p))
}
