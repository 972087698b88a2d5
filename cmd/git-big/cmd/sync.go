package cmd

import (
	"github.com/aweris/gitbig"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload tracked files to the depot",
	Args:  cobra.NoArgs,
	RunE:  runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull [paths...]",
	Short: "Link tracked files into the working tree",
	Long: `Link tracked files into the working tree.

A soft pull only links files already in the cache. A hard pull downloads
missing files from the depot first; pulling explicit paths is always hard.`,
	RunE: runPull,
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Remove this clone's references from the depot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Drop(cmd.Context())
	},
}

func init() {
	pullCmd.Flags().Bool("hard", false, "download files missing from the cache")
	pullCmd.Flags().Bool("soft", false, "only link files already in the cache")
	pullCmd.Flags().String("extra", "", "also hardlink pulled files to this path")
	pullCmd.MarkFlagsMutuallyExclusive("hard", "soft")

	rootCmd.AddCommand(pushCmd, pullCmd, dropCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	return repo.Push(cmd.Context())
}

func runPull(cmd *cobra.Command, args []string) error {
	var opts gitbig.PullOptions
	opts.Hard, _ = cmd.Flags().GetBool("hard")
	opts.Extra, _ = cmd.Flags().GetString("extra")

	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	return repo.Pull(cmd.Context(), args, opts)
}
