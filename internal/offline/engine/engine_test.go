package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bodegahq/bodega/internal/offline/db"
	"github.com/bodegahq/bodega/internal/offline/netmon"
	"github.com/bodegahq/bodega/internal/offline/queue"
	"github.com/bodegahq/bodega/internal/offline/remote"
	"github.com/bodegahq/bodega/internal/offline/schema"
)

type storeCall struct {
	Op         string
	Collection string
	DocID      string
}

// fakeStore records remote calls and fails on demand. failures maps a
// document id to how many times calls against it should fail before
// succeeding; -1 means fail forever.
type fakeStore struct {
	mu       sync.Mutex
	calls    []storeCall
	failures map[string]int
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{failures: make(map[string]int)}
}

func (f *fakeStore) apply(op, collection, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, storeCall{Op: op, Collection: collection, DocID: docID})

	remaining, ok := f.failures[docID]
	if !ok || remaining == 0 {
		return nil
	}
	if remaining > 0 {
		f.failures[docID] = remaining - 1
	}
	if f.failWith != nil {
		return f.failWith
	}
	return errors.New("remote unavailable")
}

func (f *fakeStore) Insert(ctx context.Context, collection string, doc json.RawMessage) error {
	id, _ := schema.PayloadID(doc)
	return f.apply("insert", collection, id)
}

func (f *fakeStore) UpdateByID(ctx context.Context, collection, id string, partial json.RawMessage) error {
	return f.apply("update", collection, id)
}

func (f *fakeStore) DeleteByID(ctx context.Context, collection, id string) error {
	return f.apply("delete", collection, id)
}

func (f *fakeStore) callOrder() []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]storeCall, len(f.calls))
	copy(calls, f.calls)
	return calls
}

func (f *fakeStore) callsFor(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.DocID == docID {
			n++
		}
	}
	return n
}

func testFixture(t *testing.T) (*db.DB, *queue.Repository) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store, queue.New(store, nil)
}

func enqueueCreate(t *testing.T, repo *queue.Repository, collection string, doc map[string]any) string {
	t.Helper()
	action, err := repo.Enqueue(context.Background(), schema.OpCreate, collection, doc)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	id, err := schema.PayloadID(action.Payload)
	if err != nil {
		t.Fatalf("PayloadID() failed: %v", err)
	}
	return id
}

// TestSyncOfflineData_EmptyQueue tests that an empty drain makes no remote
// calls
func TestSyncOfflineData_EmptyQueue(t *testing.T) {
	_, repo := testFixture(t)
	store := newFakeStore()
	e := New(Config{Repo: repo, Store: store})

	result, err := e.SyncOfflineData(context.Background())
	if err != nil {
		t.Fatalf("SyncOfflineData() failed: %v", err)
	}
	if result.Succeeded != 0 || result.Failed != 0 {
		t.Errorf("Result = %+v, want zero", result)
	}
	if calls := store.callOrder(); len(calls) != 0 {
		t.Errorf("remote saw %d calls on an empty queue, want 0", len(calls))
	}
}

// TestSyncOfflineData_DrainsInOrder tests that actions replay oldest first
// and are removed once confirmed
func TestSyncOfflineData_DrainsInOrder(t *testing.T) {
	_, repo := testFixture(t)
	ctx := context.Background()

	first := enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Rice"})
	second := enqueueCreate(t, repo, schema.CollectionSales, map[string]any{"total": 12.5})
	third := enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Beans"})

	store := newFakeStore()
	e := New(Config{Repo: repo, Store: store})

	result, err := e.SyncOfflineData(ctx)
	if err != nil {
		t.Fatalf("SyncOfflineData() failed: %v", err)
	}
	if result.Succeeded != 3 || result.Failed != 0 {
		t.Errorf("Result = %+v, want 3 succeeded", result)
	}

	calls := store.callOrder()
	want := []string{first, second, third}
	if len(calls) != len(want) {
		t.Fatalf("remote saw %d calls, want %d", len(calls), len(want))
	}
	for i, id := range want {
		if calls[i].DocID != id {
			t.Errorf("call %d targeted %s, want %s (enqueue order)", i, calls[i].DocID, id)
		}
	}

	count, _ := repo.GetPendingCount(ctx)
	if count != 0 {
		t.Errorf("GetPendingCount() = %d after a full drain, want 0", count)
	}
}

// TestSyncOfflineData_PartialFailure covers the partial-failure drain: a
// failing item stays queued while the rest proceed and are removed.
func TestSyncOfflineData_PartialFailure(t *testing.T) {
	_, repo := testFixture(t)
	ctx := context.Background()

	enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Rice"})
	stuck := enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Beans"})
	enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Oil"})

	store := newFakeStore()
	store.failures[stuck] = -1
	e := New(Config{Repo: repo, Store: store})

	result, err := e.SyncOfflineData(ctx)
	if err != nil {
		t.Fatalf("SyncOfflineData() failed: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("Result = %+v, want 2 succeeded 1 failed", result)
	}

	pending, err := repo.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("GetPending() has %d actions, want just the failed one", len(pending))
	}
	if gotID, _ := schema.PayloadID(pending[0].Payload); gotID != stuck {
		t.Errorf("remaining action targets %s, want %s", gotID, stuck)
	}
}

// TestSyncOfflineData_RetryWithinDrain tests the per-item attempt budget:
// a transient failure resolves inside one drain.
func TestSyncOfflineData_RetryWithinDrain(t *testing.T) {
	_, repo := testFixture(t)
	ctx := context.Background()

	id := enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Rice"})

	store := newFakeStore()
	store.failures[id] = 2 // fails twice, succeeds on the third attempt
	e := New(Config{Repo: repo, Store: store, MaxAttempts: 3, BaseDelay: time.Millisecond})

	result, err := e.SyncOfflineData(ctx)
	if err != nil {
		t.Fatalf("SyncOfflineData() failed: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Errorf("Result = %+v, want 1 succeeded", result)
	}
	if got := store.callsFor(id); got != 3 {
		t.Errorf("remote saw %d attempts, want 3", got)
	}

	count, _ := repo.GetPendingCount(ctx)
	if count != 0 {
		t.Errorf("GetPendingCount() = %d, want 0", count)
	}
}

// TestSyncOfflineData_DeadLetter tests the abandonment policy: an action that
// keeps failing across drains moves to the dead-letter table.
func TestSyncOfflineData_DeadLetter(t *testing.T) {
	store, repo := testFixture(t)
	ctx := context.Background()

	id := enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Rice"})

	remoteStore := newFakeStore()
	remoteStore.failures[id] = -1
	e := New(Config{Repo: repo, Store: remoteStore, Tracking: store, DeadLetterAfter: 2})

	for i := 0; i < 2; i++ {
		if _, err := e.SyncOfflineData(ctx); err != nil {
			t.Fatalf("SyncOfflineData() failed: %v", err)
		}
	}

	count, _ := repo.GetPendingCount(ctx)
	if count != 0 {
		t.Errorf("GetPendingCount() = %d after dead-lettering, want 0", count)
	}
	dead, err := store.DeadCount(ctx)
	if err != nil {
		t.Fatalf("DeadCount() failed: %v", err)
	}
	if dead != 1 {
		t.Errorf("DeadCount() = %d, want 1", dead)
	}
}

// TestSyncOfflineData_DeleteTargetGone tests that deleting an already-deleted
// document counts as done
func TestSyncOfflineData_DeleteTargetGone(t *testing.T) {
	_, repo := testFixture(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, schema.OpDelete, schema.CollectionProducts,
		map[string]any{"id": "p1"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	store := newFakeStore()
	store.failures["p1"] = -1
	store.failWith = &remote.Error{Op: "delete", Collection: "products", ID: "p1", Status: 404}
	e := New(Config{Repo: repo, Store: store})

	result, err := e.SyncOfflineData(ctx)
	if err != nil {
		t.Fatalf("SyncOfflineData() failed: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Errorf("Result = %+v, want the gone delete counted as succeeded", result)
	}

	count, _ := repo.GetPendingCount(ctx)
	if count != 0 {
		t.Errorf("GetPendingCount() = %d, want 0", count)
	}
}

// TestSyncOfflineData_UpdateTargetGone tests that an update whose target was
// deleted remotely is dropped rather than retried forever
func TestSyncOfflineData_UpdateTargetGone(t *testing.T) {
	_, repo := testFixture(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, schema.OpUpdate, schema.CollectionProducts,
		map[string]any{"id": "p1", "quantity": 3}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	store := newFakeStore()
	store.failures["p1"] = -1
	store.failWith = &remote.Error{Op: "update", Collection: "products", ID: "p1", Status: 404}
	e := New(Config{Repo: repo, Store: store, MaxAttempts: 3, BaseDelay: time.Millisecond})

	result, err := e.SyncOfflineData(ctx)
	if err != nil {
		t.Fatalf("SyncOfflineData() failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Result = %+v, want the dropped update counted as failed", result)
	}
	if got := store.callsFor("p1"); got != 1 {
		t.Errorf("remote saw %d attempts for a gone target, want 1 (no retries)", got)
	}

	count, _ := repo.GetPendingCount(ctx)
	if count != 0 {
		t.Errorf("GetPendingCount() = %d, want 0 (dropped actions leave the queue)", count)
	}
}

// TestSyncOfflineData_ConcurrentDrains tests that two engines draining the
// same queue leave it empty and deliver every action
func TestSyncOfflineData_ConcurrentDrains(t *testing.T) {
	_, repo := testFixture(t)
	ctx := context.Background()

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, enqueueCreate(t, repo, schema.CollectionProducts,
			map[string]any{"name": "Item"}))
	}

	store := newFakeStore()
	a := New(Config{Repo: repo, Store: store})
	b := New(Config{Repo: repo, Store: store})

	var wg sync.WaitGroup
	for _, e := range []*Engine{a, b} {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if _, err := e.SyncOfflineData(ctx); err != nil {
				t.Errorf("SyncOfflineData() failed: %v", err)
			}
		}(e)
	}
	wg.Wait()

	count, _ := repo.GetPendingCount(ctx)
	if count != 0 {
		t.Errorf("GetPendingCount() = %d after concurrent drains, want 0", count)
	}
	for _, id := range ids {
		if store.callsFor(id) < 1 {
			t.Errorf("action for %s was never delivered", id)
		}
	}
}

func waitForEmpty(t *testing.T, repo *queue.Repository) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := repo.GetPendingCount(context.Background())
		if err != nil {
			t.Fatalf("GetPendingCount() failed: %v", err)
		}
		if count == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue never drained")
}

// TestAutoSync_StartupDrain tests the one-shot startup drain when the app
// launches online with queued work
func TestAutoSync_StartupDrain(t *testing.T) {
	_, repo := testFixture(t)

	enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Rice"})

	tracker := netmon.New(netmon.Config{
		Probe: func(ctx context.Context) bool { return true },
	})

	e := New(Config{Repo: repo, Store: newFakeStore()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.AutoSync(ctx, tracker)

	waitForEmpty(t, repo)
}

// TestAutoSync_ReconnectDrain tests that an offline -> online transition
// triggers a drain
func TestAutoSync_ReconnectDrain(t *testing.T) {
	_, repo := testFixture(t)

	var online atomic.Bool
	tracker := netmon.New(netmon.Config{
		Probe: func(ctx context.Context) bool { return online.Load() },
	})

	e := New(Config{Repo: repo, Store: newFakeStore()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.AutoSync(ctx, tracker)

	enqueueCreate(t, repo, schema.CollectionProducts, map[string]any{"name": "Rice"})

	// Toggle connectivity until the engine's subscription observes an
	// offline -> online transition and drains. Retrying covers the window
	// before AutoSync has subscribed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		online.Store(false)
		tracker.ProbeNow(context.Background())
		online.Store(true)
		tracker.ProbeNow(context.Background())

		count, err := repo.GetPendingCount(context.Background())
		if err != nil {
			t.Fatalf("GetPendingCount() failed: %v", err)
		}
		if count == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue never drained after reconnect")
}
