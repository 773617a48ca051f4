package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bodegahq/bodega/internal/offline/daemon"
	"github.com/bodegahq/bodega/internal/offline/engine"
	"github.com/bodegahq/bodega/internal/offline/notify"
	"github.com/bodegahq/bodega/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Start the background sync daemon (foreground)",
	Long: `Start the background sync handler.

The daemon watches the offline queue and connectivity, drains queued
actions when online, and broadcasts sync events to application views over
a loopback WebSocket.

Runs in the foreground; use a process manager for production deployments.
Logs rotate in the data directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		store, repo, err := openQueue(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		logWriter := &lumberjack.Logger{
			Filename:   cfg.LogPath(),
			MaxSize:    cfg.Daemon.LogMaxSizeMB,
			MaxBackups: cfg.Daemon.LogMaxBackups,
		}
		logger := log.New(logWriter, "[daemon] ", log.LstdFlags)
		if verbose {
			logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		}

		tracker := newTracker(cfg)

		server := notify.NewServer(notify.Config{
			Port:   cfg.Daemon.NotifyPort,
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start notify server: %v", err)
		}
		defer server.Stop()

		eng := engine.New(engine.Config{
			Repo:            repo,
			Store:           newRemote(cfg, tracker),
			Tracking:        store,
			MaxAttempts:     cfg.Daemon.MaxAttempts,
			BaseDelay:       cfg.Daemon.BaseDelay,
			DeadLetterAfter: cfg.DeadLetter.MaxAttempts,
			Logger:          logger,
		})

		d, err := daemon.New(&daemon.Config{
			QueuePath:     cfg.QueuePath(),
			Engine:        eng,
			Repo:          repo,
			Tracker:       tracker,
			Notify:        server,
			DrainInterval: cfg.Daemon.DrainInterval,
			StatsPath:     cfg.StatsPath(),
			Logger:        logger,
		})
		if err != nil {
			fatalf("failed to create daemon: %v", err)
		}

		fmt.Printf("%s Starting sync daemon\n", ui.Accent("🚀"))
		fmt.Printf("   Queue: %s\n", cfg.QueuePath())
		fmt.Printf("   Events: ws://%s/ws\n", server.Addr())
		fmt.Printf("   Log: %s\n", cfg.LogPath())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fatalf("daemon stopped with error: %v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().BoolP("verbose", "v", false, "log to stderr instead of the log file")
	rootCmd.AddCommand(daemonCmd)
}
