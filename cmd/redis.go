package cmd

import (
	"fmt"
	"os"

	"echonote/config"
	"echonote/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check Redis connectivity",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		if err := db.ConnectRedis(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "redis check failed: %v\n", err)
			os.Exit(1)
		}
		defer db.CloseRedis()

		fmt.Printf("Redis OK: %s:%s\n", cfg.RedisHost, cfg.RedisPort)
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
