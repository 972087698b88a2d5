package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where each tracked file is stored",
	Long: `Show where each tracked file is stored.

Columns: W is linked in the working tree (* when something else occupies the
path), C is in the cache (U when it lost its write protection), D is in the
depot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Status(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
