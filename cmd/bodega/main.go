// Command bodega manages the offline queue and synchronization for the
// bodega point-of-sale backend: queued writes, the background sync daemon,
// and manual drains.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bodegahq/bodega/internal/config"
	"github.com/bodegahq/bodega/internal/offline/db"
	"github.com/bodegahq/bodega/internal/offline/netmon"
	"github.com/bodegahq/bodega/internal/offline/queue"
	"github.com/bodegahq/bodega/internal/offline/remote"
)

var (
	cfgFile string
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "bodega",
	Short: "Offline-first sync for the bodega point-of-sale backend",
	Long: `bodega manages the durable offline queue and its synchronization with
the remote store.

Writes made while offline are queued locally (queue.db in the data
directory) and replayed when connectivity returns, either by the
background daemon or by an explicit 'bodega sync'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.bodega/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"data directory override")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "queue", Title: "Queue Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration from flags, file, and environment.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openQueue opens the durable store and its repository.
func openQueue(cfg *config.Config) (*db.DB, *queue.Repository, error) {
	store, err := db.Open(cfg.QueuePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return store, queue.New(store, nil), nil
}

// newTracker builds the connectivity tracker from config.
func newTracker(cfg *config.Config) *netmon.Tracker {
	return netmon.New(netmon.Config{
		ProbeURL: cfg.Probe.URL,
		Interval: cfg.Probe.Interval,
		Timeout:  cfg.Probe.Timeout,
	})
}

// newRemote builds the remote store client, gated by the tracker.
func newRemote(cfg *config.Config, gate remote.Gate) *remote.Client {
	return remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		APIKey:  cfg.Remote.AnonKey,
		Timeout: cfg.Remote.Timeout,
		Gate:    gate,
	})
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
