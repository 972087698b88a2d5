package cmd

import (
	"fmt"

	"github.com/aweris/gitbig"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize git-big in the current repository",
	Long:  "Record the repository uuid, register the manifest merge driver and install the pre-push, post-checkout and post-merge hooks.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var cloneCmd = &cobra.Command{
	Use:   "clone <repo> [dir]",
	Short: "Clone a repository and pull its files",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runClone,
}

var setDepotCmd = &cobra.Command{
	Use:   "set-depot",
	Short: "Configure the depot of the current repository",
	Long: `Configure where objects are pushed to and pulled from.

Supported URLs:
  s3://bucket/prefix          Amazon S3
  gs://bucket/prefix          Google Cloud Storage (S3 interoperability)
  s3+http://host:port/bucket  S3 compatible server
  oci://registry/repository   OCI registry
  file:///path                local directory`,
	Args: cobra.NoArgs,
	RunE: runSetDepot,
}

func init() {
	cloneCmd.Flags().Bool("hard", false, "download every tracked file")
	cloneCmd.Flags().Bool("soft", true, "only link files already in the cache")
	cloneCmd.MarkFlagsMutuallyExclusive("hard", "soft")

	setDepotCmd.Flags().String("url", "", "depot url")
	setDepotCmd.Flags().String("key", "", "access key")
	setDepotCmd.Flags().String("secret", "", "secret key")
	setDepotCmd.Flags().Duration("timeout", 0, "timeout of a single depot call")
	setDepotCmd.Flags().Int("retries", 0, "attempts per depot call")
	setDepotCmd.MarkFlagRequired("url")

	rootCmd.AddCommand(initCmd, cloneCmd, setDepotCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	return repo.Init(cmd.Context())
}

func runClone(cmd *cobra.Command, args []string) error {
	hard, _ := cmd.Flags().GetBool("hard")
	copts := gitbig.CloneOptions{Hard: hard, Stderr: cmd.ErrOrStderr()}
	if len(args) > 1 {
		copts.Dir = args[1]
	}
	if _, err := gitbig.Clone(cmd.Context(), args[0], copts, repoOptions(cmd)...); err != nil {
		return fmt.Errorf("clone failed: %w", err)
	}
	return nil
}

func runSetDepot(cmd *cobra.Command, args []string) error {
	var d gitbig.DepotConfig
	d.URL, _ = cmd.Flags().GetString("url")
	d.Key, _ = cmd.Flags().GetString("key")
	d.Secret, _ = cmd.Flags().GetString("secret")
	d.Timeout, _ = cmd.Flags().GetDuration("timeout")
	d.Retries, _ = cmd.Flags().GetInt("retries")

	// reject urls no backend understands before saving them
	if _, err := gitbig.OpenBackend(d, logger); err != nil {
		return err
	}
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	return repo.SetDepot(cmd.Context(), d)
}
