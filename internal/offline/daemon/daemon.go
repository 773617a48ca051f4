// Package daemon provides the background sync handler.
//
// The daemon:
// 1. Watches the queue database for new offline writes
// 2. Watches connectivity and drains the queue on reconnect
// 3. Runs a periodic safety-net drain
// 4. Broadcasts drain results to connected application views
// 5. Handles graceful shutdown
//
// It runs independently of any foreground session: drains happen even when
// no application view is open, which is the whole point of queueing writes
// durably instead of holding them in process memory.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bodegahq/bodega/internal/offline/engine"
	"github.com/bodegahq/bodega/internal/offline/netmon"
	"github.com/bodegahq/bodega/internal/offline/notify"
	"github.com/bodegahq/bodega/internal/offline/queue"
)

// Config holds configuration for the daemon.
type Config struct {
	// QueuePath is the queue database file. Its directory is watched for
	// write activity; a write means new queued work.
	QueuePath string

	// Engine drains the queue. The daemon's engine is normally configured
	// with a retry budget, unlike the single-attempt foreground engine.
	Engine *engine.Engine

	// Repo reads pending counts for broadcasts.
	Repo *queue.Repository

	// Tracker supplies connectivity state and transitions.
	Tracker *netmon.Tracker

	// Notify fans drain results out to application views (optional).
	Notify *notify.Server

	// DrainInterval is the periodic safety-net drain (default: 5m).
	// Reconnects and queue activity trigger drains sooner; the ticker
	// catches anything those miss.
	DrainInterval time.Duration

	// DebounceInterval batches rapid queue writes together before
	// triggering a drain (default: 500ms).
	DebounceInterval time.Duration

	// StatsPath persists cumulative drain statistics as JSON
	// (default: alongside the queue database).
	StatsPath string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval:    5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates queue watching, connectivity tracking, and drains.
type Daemon struct {
	config  *Config
	engine  *engine.Engine
	repo    *queue.Repository
	tracker *netmon.Tracker
	notify  *notify.Server

	watcher    *fsnotify.Watcher
	queueDirty bool
	lastChange time.Time
	queueMu    sync.Mutex

	stats   *Stats
	statsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon.
func New(config *Config) (*Daemon, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config.Repo == nil {
		return nil, fmt.Errorf("repo cannot be nil")
	}
	if config.Tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if config.QueuePath == "" {
		return nil, fmt.Errorf("queue path cannot be empty")
	}

	defaults := DefaultConfig()
	if config.DrainInterval == 0 {
		config.DrainInterval = defaults.DrainInterval
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.StatsPath == "" {
		config.StatsPath = filepath.Join(filepath.Dir(config.QueuePath), "sync-stats.json")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:  config,
		engine:  config.Engine,
		repo:    config.Repo,
		tracker: config.Tracker,
		notify:  config.Notify,
		watcher: watcher,
		stats:   LoadStats(config.StatsPath, config.Logger),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon drains once on startup if online and queued work exists, then
// keeps draining on reconnects, queue activity, and the periodic ticker.
// Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting sync daemon")

	queueDir := filepath.Dir(d.config.QueuePath)
	if err := d.watcher.Add(queueDir); err != nil {
		return fmt.Errorf("failed to watch queue directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", queueDir)

	d.tracker.Start()

	d.wg.Add(3)
	go d.watchQueueEvents()
	go d.drainLoop()
	go d.watchConnectivity()

	// Startup drain: queued work may be left over from a previous run
	if d.tracker.IsOnline() {
		d.drain("startup")
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping sync daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.tracker.Stop()
	d.wg.Wait()

	d.config.Logger.Println("Sync daemon stopped")
	return nil
}

// Stats returns a copy of the cumulative drain statistics.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return *d.stats
}

// watchQueueEvents marks the queue dirty on writes to the queue database.
func (d *Daemon) watchQueueEvents() {
	defer d.wg.Done()

	base := filepath.Base(d.config.QueuePath)

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// The main database file plus its -wal and -shm companions
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}

			d.queueMu.Lock()
			d.queueDirty = true
			d.lastChange = time.Now()
			d.queueMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// drainLoop runs debounced queue-activity drains and the periodic
// safety-net drain.
func (d *Daemon) drainLoop() {
	defer d.wg.Done()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	periodic := time.NewTicker(d.config.DrainInterval)
	defer periodic.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-debounce.C:
			if d.takeQueueDirty() {
				d.drain("queue activity")
			}

		case <-periodic.C:
			d.drain("periodic")
		}
	}
}

// takeQueueDirty consumes the dirty flag once the debounce window has
// passed without further writes.
func (d *Daemon) takeQueueDirty() bool {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	if !d.queueDirty || time.Since(d.lastChange) < d.config.DebounceInterval {
		return false
	}
	d.queueDirty = false
	return true
}

// watchConnectivity drains on offline -> online transitions and broadcasts
// connectivity flips.
func (d *Daemon) watchConnectivity() {
	defer d.wg.Done()

	sub := d.tracker.Subscribe()
	for {
		select {
		case <-d.ctx.Done():
			return

		case tr := <-sub:
			d.broadcast(notify.NewEvent(notify.EventConnectivity,
				notify.ConnectivityData{Online: tr.Online}))

			if tr.Online {
				d.tracker.ClearWasOffline()
				d.drain("reconnect")
			}
		}
	}
}

// drain runs one engine pass if anything is pending and we look online,
// then broadcasts the result and updates persisted stats.
func (d *Daemon) drain(reason string) {
	pending, err := d.repo.GetPendingCount(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error reading pending count: %v", err)
		return
	}
	if pending == 0 {
		return
	}
	if !d.tracker.IsOnline() {
		d.config.Logger.Printf("Skipping drain (%s): offline with %d pending", reason, pending)
		return
	}

	d.config.Logger.Printf("Drain triggered (%s): %d pending", reason, pending)
	d.broadcast(notify.NewEvent(notify.EventSyncStarted, nil))

	result, err := d.engine.SyncOfflineData(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Drain failed (%s): %v", reason, err)
		return
	}

	remaining, err := d.repo.GetPendingCount(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error reading pending count: %v", err)
		remaining = result.Failed
	}

	d.broadcast(notify.NewEvent(notify.EventSyncComplete, notify.SyncCompleteData{
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Remaining: remaining,
	}))

	d.recordDrain(result)
}

// recordDrain folds a drain result into the persisted statistics.
func (d *Daemon) recordDrain(result engine.Result) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	d.stats.Drains++
	d.stats.TotalSynced += result.Succeeded
	d.stats.TotalFailed += result.Failed
	d.stats.LastDrainAt = time.Now()

	if err := d.stats.Save(d.config.StatsPath); err != nil {
		d.config.Logger.Printf("Warning: failed to persist stats: %v", err)
	}
}

func (d *Daemon) broadcast(ev notify.Event) {
	if d.notify == nil {
		return
	}
	d.notify.Broadcast(ev)
}
