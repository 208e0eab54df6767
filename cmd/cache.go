package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache administration",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <key>",
	Short: "Drop a cached search result from both tiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initSearch(cmd.Context(), "search")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.Invalidate(cmd.Context(), args[0]); err != nil {
			return err
		}
		zap.L().Info("cache entry invalidated", zap.String("key", args[0]))
		return nil
	},
}

var cacheKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Print the cache key for a search request built from flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildSearchRequest()
		if err != nil {
			return err
		}
		fmt.Println(req.Fingerprint())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheInvalidateCmd)
	registerRequestFlags(cacheKeyCmd)
	cacheCmd.AddCommand(cacheKeyCmd)
	rootCmd.AddCommand(cacheCmd)
}
