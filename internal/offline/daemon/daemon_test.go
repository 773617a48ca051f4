package daemon

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/bodegahq/bodega/internal/offline/db"
	"github.com/bodegahq/bodega/internal/offline/engine"
	"github.com/bodegahq/bodega/internal/offline/netmon"
	"github.com/bodegahq/bodega/internal/offline/notify"
	"github.com/bodegahq/bodega/internal/offline/queue"
	"github.com/bodegahq/bodega/internal/offline/schema"
)

// okStore accepts every remote call.
type okStore struct{ calls atomic.Int64 }

func (s *okStore) Insert(ctx context.Context, collection string, doc json.RawMessage) error {
	s.calls.Add(1)
	return nil
}

func (s *okStore) UpdateByID(ctx context.Context, collection, id string, partial json.RawMessage) error {
	s.calls.Add(1)
	return nil
}

func (s *okStore) DeleteByID(ctx context.Context, collection, id string) error {
	s.calls.Add(1)
	return nil
}

type fixture struct {
	queuePath string
	store     *db.DB
	repo      *queue.Repository
	remote    *okStore
	online    *atomic.Bool
	tracker   *netmon.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	queuePath := filepath.Join(t.TempDir(), "queue.db")
	store, err := db.Open(queuePath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	online := &atomic.Bool{}
	online.Store(true)

	return &fixture{
		queuePath: queuePath,
		store:     store,
		repo:      queue.New(store, nil),
		remote:    &okStore{},
		online:    online,
		tracker: netmon.New(netmon.Config{
			Interval: 10 * time.Millisecond,
			Probe: func(ctx context.Context) bool {
				return online.Load()
			},
		}),
	}
}

func (f *fixture) newDaemon(t *testing.T, server *notify.Server) *Daemon {
	t.Helper()

	d, err := New(&Config{
		QueuePath: f.queuePath,
		Engine: engine.New(engine.Config{
			Repo:  f.repo,
			Store: f.remote,
		}),
		Repo:             f.repo,
		Tracker:          f.tracker,
		Notify:           server,
		DebounceInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return d
}

func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Start(ctx); err != nil {
			t.Errorf("Start() failed: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func (f *fixture) enqueueCreate(t *testing.T) {
	t.Helper()
	if _, err := f.repo.Enqueue(context.Background(), schema.OpCreate,
		schema.CollectionProducts, map[string]any{"name": "Rice"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
}

func (f *fixture) waitForEmpty(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		count, err := f.repo.GetPendingCount(context.Background())
		if err != nil {
			t.Fatalf("GetPendingCount() failed: %v", err)
		}
		if count == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queue never drained")
}

// TestDaemon_StartupDrain tests that queued work from a previous run is
// drained as soon as the daemon starts online
func TestDaemon_StartupDrain(t *testing.T) {
	f := newFixture(t)
	f.enqueueCreate(t)

	d := f.newDaemon(t, nil)
	startDaemon(t, d)

	f.waitForEmpty(t)

	stats := d.Stats()
	if stats.TotalSynced != 1 {
		t.Errorf("Stats().TotalSynced = %d, want 1", stats.TotalSynced)
	}
	if stats.Drains < 1 {
		t.Errorf("Stats().Drains = %d, want at least 1", stats.Drains)
	}
}

// TestDaemon_QueueActivityDrain tests that a write to the queue database
// while the daemon runs triggers a debounced drain
func TestDaemon_QueueActivityDrain(t *testing.T) {
	f := newFixture(t)

	d := f.newDaemon(t, nil)
	startDaemon(t, d)

	time.Sleep(100 * time.Millisecond) // watcher up

	f.enqueueCreate(t)
	f.waitForEmpty(t)
}

// TestDaemon_OfflineDefersDrain tests that queued work survives while
// offline and drains after reconnect
func TestDaemon_OfflineDefersDrain(t *testing.T) {
	f := newFixture(t)
	f.online.Store(false)
	f.tracker.ProbeNow(context.Background())

	f.enqueueCreate(t)

	d := f.newDaemon(t, nil)
	startDaemon(t, d)

	time.Sleep(200 * time.Millisecond)
	count, err := f.repo.GetPendingCount(context.Background())
	if err != nil {
		t.Fatalf("GetPendingCount() failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("GetPendingCount() = %d while offline, want 1", count)
	}
	if f.remote.calls.Load() != 0 {
		t.Errorf("remote saw %d calls while offline, want 0", f.remote.calls.Load())
	}

	// Reconnect: the tracker's monitor observes the flip and the daemon
	// drains
	f.online.Store(true)
	f.waitForEmpty(t)
}

// TestDaemon_BroadcastsSyncComplete tests that a drain result reaches
// connected views
func TestDaemon_BroadcastsSyncComplete(t *testing.T) {
	f := newFixture(t)

	server := notify.NewServer(notify.Config{Port: 0})
	if err := server.Start(); err != nil {
		t.Fatalf("notify Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket Dial() failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	d := f.newDaemon(t, server)
	startDaemon(t, d)

	time.Sleep(100 * time.Millisecond)
	f.enqueueCreate(t)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("websocket Read() failed: %v", err)
		}
		var ev notify.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		if ev.Type != notify.EventSyncComplete {
			continue
		}

		var result notify.SyncCompleteData
		if err := json.Unmarshal(ev.Data, &result); err != nil {
			t.Fatalf("Failed to unmarshal sync data: %v", err)
		}
		if result.Succeeded != 1 || result.Remaining != 0 {
			t.Errorf("sync data = %+v, want 1 succeeded 0 remaining", result)
		}
		return
	}
}

// TestStats_Roundtrip tests stat persistence across restarts
func TestStats_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-stats.json")

	stats := &Stats{Drains: 4, TotalSynced: 12, TotalFailed: 2, LastDrainAt: time.Now()}
	if err := stats.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded := LoadStats(path, nil)
	if loaded.Drains != 4 || loaded.TotalSynced != 12 || loaded.TotalFailed != 2 {
		t.Errorf("LoadStats() = %+v, want the saved values", loaded)
	}
}

// TestLoadStats_MissingFile tests the zero-value fallback
func TestLoadStats_MissingFile(t *testing.T) {
	loaded := LoadStats(filepath.Join(t.TempDir(), "absent.json"), nil)
	if loaded.Drains != 0 || loaded.TotalSynced != 0 {
		t.Errorf("LoadStats() = %+v, want zero stats", loaded)
	}
}
