package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"echonote/config"
	"echonote/storage"

	"github.com/spf13/cobra"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Check MinIO connectivity",
	Long:  `Connect to the configured MinIO endpoint and verify the audio bucket is reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		store, err := storage.NewAudioStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "storage check failed: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "storage check failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("MinIO OK: %s (bucket %s)\n", cfg.MinioEndpoint, cfg.MinioBucket)
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)
}
