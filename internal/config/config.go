// Package config resolves git-big settings from git config, the environment
// and the user config file.
//
// Precedence, highest first:
//
//	git config (git-big.*)
//	environment (GITBIG_*)
//	~/.gitbig
//	defaults
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aweris/gitbig/internal/git"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable read through viper.
	EnvPrefix = "GITBIG"

	// DefaultTimeout bounds a single depot call.
	DefaultTimeout = 10 * time.Minute
	// DefaultRetries is the number of attempts made for a depot call.
	DefaultRetries = 3

	keyCacheDir     = "cache_dir"
	keyDepotURL     = "depot.url"
	keyDepotKey     = "depot.key"
	keyDepotSecret  = "depot.secret"
	keyDepotTimeout = "depot.timeout"
	keyDepotRetries = "depot.retries"
	keyLogLevel     = "log_level"
)

// Git config keys.
const (
	GitUUID         = "git-big.uuid"
	GitCacheDir     = "git-big.cache-dir"
	GitDepotURL     = "git-big.depot.url"
	GitDepotKey     = "git-big.depot.key"
	GitDepotSecret  = "git-big.depot.secret"
	GitDepotTimeout = "git-big.depot.timeout"
	GitDepotRetries = "git-big.depot.retries"
	GitMergeDriver  = "merge.git-big.driver"

	// MergeDriverCommand is registered as the manifest merge driver.
	MergeDriverCommand = "git big merge-driver %O %A %B"
)

// Depot locates and authenticates against the remote object store.
type Depot struct {
	URL     string
	Key     string
	Secret  string
	Timeout time.Duration
	Retries int
}

// Config is the resolved view used by every command.
type Config struct {
	// UUID namespaces this clone's liveness report in the depot.
	UUID string
	// NewUUID is true when UUID was generated during this run and still has
	// to be persisted.
	NewUUID  bool
	CacheDir string
	// LockPath is the process lock. It always lives in the default cache dir
	// so invocations using different caches still serialize.
	LockPath string
	LogLevel string
	// Depot is nil when no depot URL is configured.
	Depot *Depot
}

// DefaultCacheDir is $XDG_CACHE_HOME/git-big, falling back to ~/.cache/git-big.
func DefaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "git-big")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "git-big")
	}
	return ".git-big"
}

// DefaultLockPath is the process lock path.
func DefaultLockPath() string {
	return filepath.Join(DefaultCacheDir(), "lock")
}

// UserConfigPath is ~/.gitbig.
func UserConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gitbig")
	}
	return ".gitbig"
}

// Setup prepares v to read the user config file at path and GITBIG_*
// environment variables.
func Setup(v *viper.Viper, path string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault(keyCacheDir, DefaultCacheDir())
	v.SetDefault(keyDepotTimeout, DefaultTimeout.String())
	v.SetDefault(keyDepotRetries, DefaultRetries)
	v.SetDefault(keyLogLevel, "info")

	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat user config: %w", err)
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read user config %s: %w", path, err)
	}
	return nil
}

// Load resolves the configuration. v must have been prepared with Setup.
func Load(ctx context.Context, v *viper.Viper, g *git.Git) (*Config, error) {
	gc, err := LoadGit(ctx, g)
	if err != nil {
		return nil, err
	}

	c := &Config{
		UUID:     gc.UUID,
		CacheDir: first(gc.CacheDir, v.GetString(keyCacheDir)),
		LockPath: DefaultLockPath(),
		LogLevel: v.GetString(keyLogLevel),
	}
	if c.UUID == "" {
		c.UUID = uuid.NewString()
		c.NewUUID = true
	}
	c.CacheDir = expandPath(c.CacheDir)

	url := first(gc.DepotURL, v.GetString(keyDepotURL))
	if url == "" {
		return c, nil
	}

	d := &Depot{
		URL:    url,
		Key:    first(gc.DepotKey, v.GetString(keyDepotKey)),
		Secret: first(gc.DepotSecret, v.GetString(keyDepotSecret)),
	}
	timeout := first(gc.DepotTimeout, v.GetString(keyDepotTimeout))
	if d.Timeout, err = time.ParseDuration(timeout); err != nil {
		return nil, fmt.Errorf("invalid depot timeout %q: %w", timeout, err)
	}
	retries := first(gc.DepotRetries, v.GetString(keyDepotRetries))
	if d.Retries, err = strconv.Atoi(retries); err != nil {
		return nil, fmt.Errorf("invalid depot retries %q: %w", retries, err)
	}
	if d.Retries < 1 {
		d.Retries = 1
	}
	c.Depot = d
	return c, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
