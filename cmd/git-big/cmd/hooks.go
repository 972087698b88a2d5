package cmd

import (
	"fmt"
	"os"

	"github.com/aweris/gitbig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var hooksCmd = &cobra.Command{
	Use:    "hooks",
	Short:  "Entry points of the installed git hooks",
	Hidden: true,
}

func init() {
	for _, h := range []struct {
		name string
		use  string
		args int
	}{
		{gitbig.HookPrePush, "pre-push <remote> <url>", 2},
		{gitbig.HookPostCheckout, "post-checkout <previous> <new> <flag>", 3},
		{gitbig.HookPostMerge, "post-merge <flag>", 1},
	} {
		hook := h.name
		hooksCmd.AddCommand(&cobra.Command{
			Use:  h.use,
			Args: cobra.ExactArgs(h.args),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHook(cmd, hook, args)
			},
		})
	}
	rootCmd.AddCommand(hooksCmd)
}

// runHook runs the hook and then replaces the process with the hook it
// displaced, if any.
func runHook(cmd *cobra.Command, hook string, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	next, err := repo.RunHook(cmd.Context(), hook)
	if err != nil {
		return fmt.Errorf("%s hook: %w", hook, err)
	}
	if next == "" {
		return nil
	}

	releaseLock()
	logger.Debug("chaining hook", zap.String("path", next))
	return unix.Exec(next, append([]string{next}, args...), os.Environ())
}
