package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bodegahq/bodega/internal/offline/engine"
	"github.com/bodegahq/bodega/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the offline queue against the remote store",
	Long: `Replay all pending offline actions against the remote store, oldest
first. Confirmed actions are removed from the queue; failures stay queued
for the next drain.

Requires connectivity. While offline the command reports the pending count
and exits without touching the queue.`,
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

		ctx := context.Background()

		pending, err := repo.GetPendingCount(ctx)
		if err != nil {
			fatalf("failed to read queue: %v", err)
		}
		if pending == 0 {
			fmt.Printf("%s Nothing to sync\n", ui.Pass("✓"))
			return
		}

		tracker := newTracker(cfg)
		if !tracker.ProbeNow(ctx) {
			fmt.Printf("%s Offline: %d actions remain queued\n", ui.Warn("⚠"), pending)
			return
		}

		eng := engine.New(engine.Config{
			Repo:            repo,
			Store:           newRemote(cfg, tracker),
			Tracking:        store,
			DeadLetterAfter: cfg.DeadLetter.MaxAttempts,
		})

		fmt.Printf("%s Syncing %d pending actions...\n", ui.Accent("🔄"), pending)
		start := time.Now()

		result, err := eng.SyncOfflineData(ctx)
		if err != nil {
			fatalf("sync failed: %v", err)
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		if result.Failed == 0 {
			fmt.Printf("%s Synced %d actions in %v\n", ui.Pass("✓"), result.Succeeded, elapsed)
			return
		}
		fmt.Printf("%s Synced %d, %d failed (still queued) in %v\n",
			ui.Warn("⚠"), result.Succeeded, result.Failed, elapsed)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
