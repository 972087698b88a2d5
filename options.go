package gitbig

import (
	"io"
	"os"

	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/fsys"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// OpenOptions configures a Repo.
type OpenOptions struct {
	// Dir is any directory inside the repository.
	Dir string
	// CacheDir overrides every configured cache directory.
	CacheDir string
	// Viper supplies the environment and user file layers of the
	// configuration. A fresh instance reading ~/.gitbig is used when nil.
	Viper *viper.Viper
	// Backend replaces the depot backend built from the configured URL.
	Backend Backend
	Out     io.Writer
	Logger  *zap.Logger
	FS      fsys.Filesystem
}

// OpenOption is a functional option for configuring Open.
type OpenOption func(*OpenOptions)

func defaultOptions() *OpenOptions {
	return &OpenOptions{
		Dir:    ".",
		Out:    os.Stdout,
		Logger: zap.NewNop(),
		FS:     fsys.Default(),
	}
}

// WithDir opens the repository containing dir.
func WithDir(dir string) OpenOption {
	return func(o *OpenOptions) { o.Dir = dir }
}

// WithCacheDir sets the local cache directory.
func WithCacheDir(dir string) OpenOption {
	return func(o *OpenOptions) { o.CacheDir = dir }
}

// WithViper sets the viper instance holding the env and file settings.
func WithViper(v *viper.Viper) OpenOption {
	return func(o *OpenOptions) { o.Viper = v }
}

// WithBackend sets the depot backend, regardless of configuration.
func WithBackend(b Backend) OpenOption {
	return func(o *OpenOptions) { o.Backend = b }
}

// WithOutput sets where command output is written.
func WithOutput(w io.Writer) OpenOption {
	return func(o *OpenOptions) { o.Out = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) OpenOption {
	return func(o *OpenOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithFilesystem sets the filesystem capability.
func WithFilesystem(f fsys.Filesystem) OpenOption {
	return func(o *OpenOptions) { o.FS = f }
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	if err := config.Setup(v, config.UserConfigPath()); err != nil {
		return nil, err
	}
	return v, nil
}
