package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/newhook/nextpick/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagInitURL         string
	flagInitSKUTemplate string
	flagInitForce       bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a documented config file",
	Long: `Init writes .nextpick/config.toml with every option documented and its
default commented out.

The API key is never written to the file; export PICQER_API_KEY instead.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&flagInitURL, "url", "", "Picqer API base, e.g. https://example.picqer.com/api/v1 (default: $PICQER_API_URL)")
	initCmd.Flags().StringVar(&flagInitSKUTemplate, "sku-template", "", "fallback image URL template using {sku} and {ext}")
	initCmd.Flags().BoolVarP(&flagInitForce, "force", "f", false, "overwrite an existing config")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.Path(flagRoot)
	if _, err := os.Stat(path); err == nil && !flagInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	var cfg config.Config
	cfg.Picqer.URL = flagInitURL
	if cfg.Picqer.URL == "" {
		cfg.Picqer.URL = os.Getenv(config.EnvAPIURL)
	}
	cfg.Images.SKUTemplate = flagInitSKUTemplate

	if err := cfg.SaveDocumentedConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
