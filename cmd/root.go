package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tjsasakifln/licitasearch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "licitasearch",
	Short: "Multi-source Brazilian public procurement search",
	Long:  "Fans keyword searches out to PNCP, Comprasnet and Portal da Transparência, filters and deduplicates the results, and serves them from a stale-while-revalidate cache.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
