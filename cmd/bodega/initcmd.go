package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bodegahq/bodega/internal/config"
	"github.com/bodegahq/bodega/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, config file, and queue database",
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}

		if err := config.WriteDefault(path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.Pass("✓"), path)

		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			fatalf("failed to create data directory: %v", err)
		}

		store, _, err := openQueue(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		fmt.Printf("%s Initialized queue database at %s\n", ui.Pass("✓"), cfg.QueuePath())
		fmt.Printf("\nNext: set remote.base_url and remote.anon_key in %s\n", path)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
