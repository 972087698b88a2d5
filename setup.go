package gitbig

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/git"
	"github.com/google/renameio"
	"go.uber.org/zap"
)

// Hooks installed by Init.
const (
	HookPrePush      = "pre-push"
	HookPostCheckout = "post-checkout"
	HookPostMerge    = "post-merge"
)

const (
	attributesFile = ".gitattributes"
	attributesLine = ".gitbig merge=git-big"
	hooksDir       = "hooks"
	chainSuffix    = ".git-big"
)

// hookArgs is the number of arguments git passes to each hook.
var hookArgs = map[string]int{
	HookPrePush:      2,
	HookPostCheckout: 3,
	HookPostMerge:    1,
}

// Init prepares the repository: git config, hooks, the manifest merge
// attribute and the anchor exclusion.
func (r *Repo) Init(ctx context.Context) error {
	if err := r.save(ctx); err != nil {
		return err
	}
	for _, hook := range []string{HookPrePush, HookPostCheckout, HookPostMerge} {
		if err := r.installHook(hook); err != nil {
			return err
		}
	}
	if r.info.IsBare {
		return nil
	}

	changed, err := ensureLine(filepath.Join(r.info.WorkingDir, attributesFile), attributesLine)
	if err != nil {
		return err
	}
	if changed {
		return r.git.Add(ctx, attributesFile)
	}
	return nil
}

func hookScript(hook string) string {
	args := make([]string, hookArgs[hook])
	for i := range args {
		args[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("#!/bin/sh\nexec git big hooks %s %s\n", hook, strings.Join(args, " "))
}

// installHook writes the hook script. A different existing hook is kept as
// <hook>.git-big and run after ours.
func (r *Repo) installHook(hook string) error {
	dir := filepath.Join(r.info.GitDir, hooksDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hooks dir: %w", err)
	}
	script := hookScript(hook)
	p := filepath.Join(dir, hook)

	existing, err := os.ReadFile(p)
	switch {
	case err == nil && string(existing) == script:
		return nil
	case err == nil:
		r.l.Info("chaining existing hook", zap.String("hook", hook))
		if err := os.Rename(p, p+chainSuffix); err != nil {
			return fmt.Errorf("move existing %s hook: %w", hook, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read %s hook: %w", hook, err)
	}

	if err := renameio.WriteFile(p, []byte(script), 0o755); err != nil {
		return fmt.Errorf("write %s hook: %w", hook, err)
	}
	return nil
}

// RunHook performs the git-big side of a hook and returns the chained hook
// that must run next, or "" when there is none. pre-push pushes; the
// checkout and merge hooks do a soft pull.
func (r *Repo) RunHook(ctx context.Context, hook string) (string, error) {
	var err error
	switch hook {
	case HookPrePush:
		if r.depot == nil {
			r.l.Warn("no depot configured, skipping push")
			break
		}
		err = r.Push(ctx)
	case HookPostCheckout, HookPostMerge:
		err = r.Pull(ctx, nil, PullOptions{})
	default:
		return "", ErrUsage.Wrap(fmt.Errorf("unknown hook %q", hook))
	}
	if err != nil {
		return "", err
	}
	return r.chainedHook(hook), nil
}

func (r *Repo) chainedHook(hook string) string {
	p := filepath.Join(r.info.GitDir, hooksDir, hook+chainSuffix)
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() || fi.Mode().Perm()&0o111 == 0 {
		return ""
	}
	return p
}

// SetDepot stores the depot settings in the repository's git config. They
// take effect on the next Open.
func (r *Repo) SetDepot(ctx context.Context, d DepotConfig) error {
	return config.SaveDepot(ctx, r.git, d)
}

// CloneOptions controls Clone.
type CloneOptions struct {
	// Dir is the clone target. It defaults to the last segment of the url.
	Dir string
	// Hard downloads every tracked object after checkout.
	Hard   bool
	Stderr io.Writer
}

// Clone clones url, initializes git-big in the new repository and pulls.
func Clone(ctx context.Context, url string, copts CloneOptions, opts ...OpenOption) (*Repo, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	dir := copts.Dir
	if dir == "" {
		dir = cloneDir(url)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(options.Dir, dir)
	}
	stderr := copts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := git.New(options.Dir, options.Logger).Clone(ctx, options.Out, stderr, url, dir); err != nil {
		return nil, err
	}
	r, err := Open(ctx, append(opts, WithDir(dir))...)
	if err != nil {
		return nil, err
	}
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	return r, r.Pull(ctx, nil, PullOptions{Hard: copts.Hard})
}

// cloneDir is the directory git clone would pick for url.
func cloneDir(url string) string {
	name := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(path.Base(name), ".git")
}

// ensureLine appends line to the file at p unless it is already present.
func ensureLine(p, line string) (changed bool, err error) {
	data, err := os.ReadFile(p)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read %s: %w", p, err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if strings.TrimRight(sc.Text(), " \t\r") == line {
			return false, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("read %s: %w", p, err)
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	data = append(data, line+"\n"...)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(p), err)
	}
	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", p, err)
	}
	return true, nil
}
