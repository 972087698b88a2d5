// Package git runs the git subcommands git-big depends on.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Git runs commands against the repository containing Dir.
type Git struct {
	Dir string
	l   *zap.Logger
}

// New returns a runner rooted at dir. An empty dir uses the process working
// directory.
func New(dir string, l *zap.Logger) *Git {
	if l == nil {
		l = zap.NewNop()
	}
	return &Git{Dir: dir, l: l}
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func (g *Git) command(ctx context.Context, args ...string) *exec.Cmd {
	if g.Dir != "" {
		args = append([]string{"-C", g.Dir}, args...)
	}
	g.l.Debug("git", zap.Strings("args", args))
	return exec.CommandContext(ctx, "git", args...)
}

// Run executes git and returns its standard output. Failures carry git's
// standard error in the message.
func (g *Git) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := g.command(ctx, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &Error{Args: args, Msg: msg, Err: err}
	}
	return stdout.Bytes(), nil
}

// Output is Run with surrounding whitespace trimmed.
func (g *Git) Output(ctx context.Context, args ...string) (string, error) {
	out, err := g.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Stream executes git with the given output writers attached.
func (g *Git) Stream(ctx context.Context, stdout, stderr io.Writer, args ...string) error {
	cmd := g.command(ctx, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return &Error{Args: args, Msg: err.Error(), Err: err}
	}
	return nil
}

// Error is a failed git invocation.
type Error struct {
	Args []string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns git's exit status, or -1 when it did not run to completion.
func (e *Error) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Repository describes the repository found from Git.Dir.
type Repository struct {
	// WorkingDir is the top level of the working tree.
	WorkingDir string
	// GitDir holds hooks and info/exclude. Linked worktrees resolve to the
	// common directory of the main repository.
	GitDir string
	IsBare bool
}

// Discover locates the repository containing g.Dir.
func (g *Git) Discover(ctx context.Context) (*Repository, error) {
	gitDir, err := g.Output(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return nil, fmt.Errorf("git repository not found: %w", err)
	}
	if parent := filepath.Base(filepath.Dir(gitDir)); parent == "worktrees" {
		common, err := g.Output(ctx, "rev-parse", "--git-common-dir")
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(common) {
			common = filepath.Join(gitDir, common)
		}
		gitDir = filepath.Clean(common)
	}

	bare, err := g.Output(ctx, "rev-parse", "--is-bare-repository")
	if err != nil {
		return nil, err
	}
	r := &Repository{GitDir: gitDir, IsBare: bare == "true"}
	if r.IsBare {
		r.WorkingDir = gitDir
		return r, nil
	}

	top, err := g.Output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	r.WorkingDir = filepath.Clean(top)
	return r, nil
}

// Branch returns the abbreviated name of HEAD, or "HEAD" on a detached or
// unborn head.
func (g *Git) Branch(ctx context.Context) string {
	out, err := g.Output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		if ref, err := g.Output(ctx, "symbolic-ref", "--short", "HEAD"); err == nil {
			return ref
		}
		return "HEAD"
	}
	return out
}

// ConfigGet reads a key from the repository configuration. ok is false when
// the key is unset.
func (g *Git) ConfigGet(ctx context.Context, key string) (value string, ok bool, err error) {
	out, err := g.Run(ctx, "config", "--get", key)
	if err != nil {
		var ge *Error
		if errors.As(err, &ge) && ge.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimRight(string(out), "\r\n"), true, nil
}

// ConfigSet writes a key to the local repository configuration.
func (g *Git) ConfigSet(ctx context.Context, key, value string) error {
	_, err := g.Run(ctx, "config", "--local", key, value)
	return err
}

// Add stages paths, including ignored ones.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.Run(ctx, append([]string{"add", "-f", "--"}, paths...)...)
	return err
}

// Remove unstages paths. The working files are left alone and paths git does
// not know are ignored.
func (g *Git) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.Run(ctx, append([]string{"rm", "--cached", "--ignore-unmatch", "-q", "--"}, paths...)...)
	return err
}

// Clone clones url into dir.
func (g *Git) Clone(ctx context.Context, stdout, stderr io.Writer, url, dir string) error {
	args := []string{"clone", url}
	if dir != "" {
		args = append(args, dir)
	}
	return g.Stream(ctx, stdout, stderr, args...)
}
