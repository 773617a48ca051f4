package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/bodegahq/bodega/internal/offline/daemon"
	"github.com/bodegahq/bodega/internal/offline/notify"
	"github.com/bodegahq/bodega/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queue and connectivity status",
	Long: `Display the offline queue state: pending and abandoned action counts,
connectivity, and cumulative drain statistics from the daemon.

With --follow, attach to the running daemon's event stream and print sync
events as they happen.`,
	Run: func(cmd *cobra.Command, args []string) {
		follow, _ := cmd.Flags().GetBool("follow")

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
		dead, err := store.DeadCount(ctx)
		if err != nil {
			fatalf("failed to read dead-letter table: %v", err)
		}

		tracker := newTracker(cfg)

		fmt.Printf("\n%s Queue Status\n\n", ui.Accent("📊"))
		fmt.Printf("Queue: %s\n", cfg.QueuePath())
		fmt.Printf("Connectivity: %s\n", ui.OnlineBadge(tracker.IsOnline()))
		fmt.Printf("Pending: %d\n", pending)
		if dead > 0 {
			fmt.Printf("Abandoned: %s\n", ui.Fail(fmt.Sprintf("%d", dead)))
		}

		stats := daemon.LoadStats(cfg.StatsPath(), nil)
		if stats.Drains > 0 {
			fmt.Printf("Drains: %d (%d synced, %d failed)\n",
				stats.Drains, stats.TotalSynced, stats.TotalFailed)
			fmt.Printf("Last drain: %s\n", stats.LastDrainAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()

		if follow {
			followEvents(cfg.Daemon.NotifyPort)
		}
	},
}

// followEvents attaches to the daemon's notify stream and prints events
// until interrupted.
func followEvents(port int) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		fatalf("failed to connect to daemon at %s (is it running?): %v", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	fmt.Printf("Following sync events (%s). Press Ctrl+C to stop.\n\n", url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatalf("event stream closed: %v", err)
		}

		var ev notify.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		printEvent(ev)
	}
}

func printEvent(ev notify.Event) {
	stamp := ui.Dim(ev.Timestamp.Format(time.TimeOnly))

	switch ev.Type {
	case notify.EventSyncStarted:
		fmt.Printf("%s %s sync started\n", stamp, ui.Accent("🔄"))

	case notify.EventSyncComplete:
		var result notify.SyncCompleteData
		_ = json.Unmarshal(ev.Data, &result)
		marker := ui.Pass("✓")
		if result.Failed > 0 {
			marker = ui.Warn("⚠")
		}
		fmt.Printf("%s %s sync complete: %d synced, %d failed, %d remaining\n",
			stamp, marker, result.Succeeded, result.Failed, result.Remaining)

	case notify.EventQueueChanged:
		var change notify.QueueChangedData
		_ = json.Unmarshal(ev.Data, &change)
		fmt.Printf("%s queue changed: %d pending\n", stamp, change.Pending)

	case notify.EventConnectivity:
		var conn notify.ConnectivityData
		_ = json.Unmarshal(ev.Data, &conn)
		fmt.Printf("%s connectivity: %s\n", stamp, ui.OnlineBadge(conn.Online))

	default:
		fmt.Printf("%s %s\n", stamp, ev.Type)
	}
}

func init() {
	statusCmd.Flags().BoolP("follow", "f", false, "follow the daemon's sync events")
	rootCmd.AddCommand(statusCmd)
}
