package cmd

import (
	"io"
	"os"

	"github.com/aweris/gitbig"
	"github.com/spf13/cobra"
)

var filterCmd = &cobra.Command{
	Use:    "filter",
	Short:  "git filter drivers",
	Hidden: true,
}

var filterProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the long running clean/smudge filter on stdin and stdout",
	Long: `Run the long running clean/smudge filter on stdin and stdout.

Enable it with:
  git config filter.git-big.process "git big filter process"
  echo "*.bin filter=git-big" >> .gitattributes`,
	Args:        cobra.NoArgs,
	Annotations: noLock(),
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol
		repo, err := openRepo(cmd, gitbig.WithOutput(io.Discard))
		if err != nil {
			return err
		}
		return repo.ServeFilter(cmd.Context(), os.Stdin, os.Stdout)
	},
}

var mergeDriverCmd = &cobra.Command{
	Use:         "merge-driver <base> <ours> <theirs>",
	Short:       "Merge two .gitbig manifests",
	Hidden:      true,
	Args:        cobra.ExactArgs(3),
	Annotations: noLock(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return gitbig.Merge(args[0], args[1], args[2])
	},
}

func init() {
	filterCmd.AddCommand(filterProcessCmd)
	rootCmd.AddCommand(filterCmd, mergeDriverCmd)
}
