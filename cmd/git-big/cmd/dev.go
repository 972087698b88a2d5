package cmd

import (
	"github.com/spf13/cobra"
)

var devCmd = &cobra.Command{
	Use:    "dev",
	Short:  "Maintenance commands",
	Hidden: true,
}

var reachableCmd = &cobra.Command{
	Use:   "reachable",
	Short: "List every digest referenced in history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.ListReachable(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the content of every cache object",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Check(cmd.Context())
	},
}

func init() {
	devCmd.AddCommand(reachableCmd, checkCmd)
	rootCmd.AddCommand(devCmd)
}
