package cmd

import (
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <paths...>",
	Short: "Track files",
	Long:  "Move files into the cache and replace them with links. Directories are added recursively.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Add(cmd.Context(), args...)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <paths...>",
	Aliases: []string{"remove"},
	Short:   "Stop tracking files and delete their links",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Remove(cmd.Context(), args...)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <paths...>",
	Short: "Replace links with writable copies and stop tracking them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Unlock(cmd.Context(), args...)
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <sources...> <dest>",
	Short: "Move tracked files",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Move(cmd.Context(), args[:len(args)-1], args[len(args)-1])
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <sources...> <dest>",
	Short: "Copy tracked files",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Copy(cmd.Context(), args[:len(args)-1], args[len(args)-1])
	},
}

func init() {
	rootCmd.AddCommand(addCmd, rmCmd, unlockCmd, mvCmd, cpCmd)
}
