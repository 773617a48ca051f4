package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bodegahq/bodega/internal/offline/schema"
	"github.com/bodegahq/bodega/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "queue",
	Short:   "Inspect and manage the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending actions in replay order",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		store, repo, err := openQueue(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		pending, err := repo.GetPending(context.Background())
		if err != nil {
			fatalf("failed to read queue: %v", err)
		}
		if len(pending) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.Pass("✓"))
			return
		}

		fmt.Printf("\n%d pending actions:\n\n", len(pending))
		for _, action := range pending {
			docID, _ := schema.PayloadID(action.Payload)
			line := fmt.Sprintf("%-8s %-18s %s", action.Kind, action.Collection, docID)
			fmt.Printf("  %s  %s\n", line, ui.Dim(action.EnqueuedAt.Format("2006-01-02 15:04:05")))
			if action.Attempts > 0 {
				fmt.Printf("  %s\n", ui.Warn(fmt.Sprintf("%d failed attempts", action.Attempts)))
			}
		}
		fmt.Println()
	},
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the pending action count",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		store, repo, err := openQueue(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		count, err := repo.GetPendingCount(context.Background())
		if err != nil {
			fatalf("failed to read queue: %v", err)
		}
		fmt.Println(count)
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all pending actions",
	Long: `Remove every pending action from the offline queue without syncing it.

The discarded writes are lost permanently. Prompts for confirmation unless
--force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		store, repo, err := openQueue(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		ctx := context.Background()

		pending, err := repo.GetPendingCount(ctx)
		if err != nil {
			fatalf("failed to read queue: %v", err)
		}
		if pending == 0 {
			fmt.Printf("%s Queue is already empty\n", ui.Pass("✓"))
			return
		}

		if !force {
			confirmed, err := ui.Confirm(
				fmt.Sprintf("Discard %d unsynced actions? They will never reach the remote store.", pending))
			if err != nil {
				fatalf("%v", err)
			}
			if !confirmed {
				fmt.Println("Aborted")
				return
			}
		}

		removed, err := repo.Clear(ctx)
		if err != nil {
			fatalf("failed to clear queue: %v", err)
		}
		fmt.Printf("%s Discarded %d actions\n", ui.Pass("✓"), removed)
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export pending actions to a JSONL archive",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		store, repo, err := openQueue(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		count, err := repo.ExportFile(context.Background(), args[0])
		if err != nil {
			fatalf("export failed: %v", err)
		}
		fmt.Printf("%s Exported %d actions to %s\n", ui.Pass("✓"), count, args[0])
	},
}

var queueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import actions from a JSONL archive",
	Long: `Enqueue every action from a JSONL archive created by 'queue export'.

Actions already present in the queue (same id) are skipped, so importing an
archive twice is harmless.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		store, repo, err := openQueue(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		result, err := repo.ImportFile(context.Background(), args[0])
		if err != nil {
			fatalf("import failed: %v", err)
		}

		fmt.Printf("%s Imported %d actions (%d already present)\n",
			ui.Pass("✓"), result.Imported, result.Skipped)
		for _, msg := range result.Errors {
			fmt.Printf("%s %s\n", ui.Warn("⚠"), msg)
		}
	},
}

func init() {
	queueClearCmd.Flags().Bool("force", false, "skip the confirmation prompt")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueExportCmd)
	queueCmd.AddCommand(queueImportCmd)
	rootCmd.AddCommand(queueCmd)
}
