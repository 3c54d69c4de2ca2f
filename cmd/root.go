package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mofcom-crawler",
		Short: "Incremental crawler for the MOFCOM search portal",
		Long: `mofcom-crawler searches the MOFCOM portal for every country and keyword
line, normalizes the articles it finds and upserts them into a NocoDB table.
Each pass only asks the portal for articles newer than what the table
already holds for a country.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env is the normal case outside local development.
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mofcom-crawler %s\n", Version)
		},
	})
	return cmd
}

// Execute runs the root command.
func Execute() error {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		return fmt.Errorf("mofcom-crawler: %w", err)
	}
	return nil
}
