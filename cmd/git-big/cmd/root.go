package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aweris/gitbig"
	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/fsys"
	"github.com/aweris/gitbig/internal/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// annotationNoLock marks commands that run without the process lock. They
// are started by git while another git-big command may hold it.
const annotationNoLock = "nolock"

var rootCmd = &cobra.Command{
	Use:               "git-big",
	Short:             "Large file management for git",
	Long:              "git-big replaces large files in a git working tree with links into a content-addressed cache, synchronized with a remote depot.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var (
	cfg    = viper.New()
	logger = zap.NewNop()
	lock   *fsys.ProcessLock
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	releaseLock()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory (overrides git-big.cache-dir)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info or none")

	cfg.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if err := config.Setup(cfg, config.UserConfigPath()); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	l, err := log.GetLogger(cfg.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger = l

	if cmd.Annotations[annotationNoLock] != "" {
		return nil
	}
	return acquireLock()
}

func acquireLock() error {
	path := gitbig.LockPath()
	l, ok, err := fsys.TryAcquireLock(path)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("waiting for another git-big process", zap.String("lock", path))
		if l, err = fsys.AcquireLock(path); err != nil {
			return err
		}
	}
	lock = l
	return nil
}

func releaseLock() {
	if err := lock.Release(); err != nil {
		logger.Warn("failed to release lock", zap.Error(err))
	}
	lock = nil
}

func noLock() map[string]string {
	return map[string]string{annotationNoLock: "true"}
}

func openRepo(cmd *cobra.Command, opts ...gitbig.OpenOption) (*gitbig.Repo, error) {
	return gitbig.Open(cmd.Context(), append(repoOptions(cmd), opts...)...)
}

func repoOptions(cmd *cobra.Command) []gitbig.OpenOption {
	opts := []gitbig.OpenOption{
		gitbig.WithViper(cfg),
		gitbig.WithLogger(logger),
		gitbig.WithOutput(cmd.OutOrStdout()),
	}
	if dir, _ := cmd.Flags().GetString("cache-dir"); dir != "" {
		opts = append(opts, gitbig.WithCacheDir(dir))
	}
	return opts
}
