package syncqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumeapp/plume.go/pkg/localstore"
	"github.com/plumeapp/plume.go/pkg/models"
)

// scriptedTransport fails a configured number of times per change id, then
// succeeds, recording every attempt.
type scriptedTransport struct {
	mu       sync.Mutex
	failures map[string]int
	attempts map[string]int
	failAll  bool
	pushed   []models.PendingChange
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		failures: make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (tr *scriptedTransport) Push(_ context.Context, change models.PendingChange) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.attempts[change.ID]++
	if tr.failAll || tr.attempts[change.ID] <= tr.failures[change.ID] {
		return errors.New("transport unavailable")
	}
	tr.pushed = append(tr.pushed, change)
	return nil
}

func (tr *scriptedTransport) attemptCount(id string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.attempts[id]
}

func (tr *scriptedTransport) delivered() []models.PendingChange {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]models.PendingChange(nil), tr.pushed...)
}

func newTestEngine(t *testing.T, tr Transport, maxRetries int) (*Engine, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(localstore.Options{
		Path:       filepath.Join(t.TempDir(), "plume.db"),
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := New(Options{
		Queue:     store,
		Transport: tr,
		// Keep the follow-up timer out of the way: every drain in these
		// tests is triggered explicitly.
		RetryInterval:    time.Hour,
		MaxRetryInterval: time.Hour,
	})
	t.Cleanup(engine.Close)
	return engine, store
}

// markOnline flips the connectivity flag without SetOnline's drain trigger,
// so tests control exactly how many passes run.
func markOnline(e *Engine) {
	e.mu.Lock()
	e.online = true
	e.mu.Unlock()
}

func TestDrainDeliversInOrderAndClearsDirty(t *testing.T) {
	tr := newScriptedTransport()
	engine, store := newTestEngine(t, tr, 3)
	markOnline(engine)

	_, err := store.SaveDocument(models.Document{ID: "doc-1", Content: "un"})
	require.NoError(t, err)
	_, err = store.SaveDocument(models.Document{ID: "doc-1", Content: "deux"})
	require.NoError(t, err)
	_, err = store.SaveDocument(models.Document{ID: "doc-2", Content: "trois"})
	require.NoError(t, err)

	engine.ForceSync(context.Background())

	delivered := tr.delivered()
	require.Len(t, delivered, 3)
	assert.Equal(t, "doc-1", delivered[0].DocumentID)
	assert.Equal(t, "doc-1", delivered[1].DocumentID)
	assert.Equal(t, "doc-2", delivered[2].DocumentID)

	count, err := store.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	doc, err := store.LoadDocument("doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.False(t, doc.IsDirty)

	status := engine.CurrentStatus()
	assert.True(t, status.IsOnline)
	assert.False(t, status.IsSyncing)
	assert.False(t, status.LastSync.IsZero())
	assert.Empty(t, status.Error)
}

func TestOfflineEngineDoesNotDrain(t *testing.T) {
	tr := newScriptedTransport()
	engine, store := newTestEngine(t, tr, 3)

	_, err := store.SaveDocument(models.Document{ID: "doc-1", Content: "a"})
	require.NoError(t, err)

	engine.ForceSync(context.Background())

	assert.Empty(t, tr.delivered())
	count, err := store.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFailTwiceThenSucceed(t *testing.T) {
	tr := newScriptedTransport()
	engine, store := newTestEngine(t, tr, 3)
	markOnline(engine)

	_, err := store.SaveDocument(models.Document{ID: "doc-1", Content: "a"})
	require.NoError(t, err)

	changes, err := store.PendingChanges()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	tr.mu.Lock()
	tr.failures[changes[0].Change.ID] = 2
	tr.mu.Unlock()

	// Two failing passes leave the record queued with retry_count=2.
	engine.ForceSync(context.Background())
	engine.ForceSync(context.Background())

	changes, err = store.PendingChanges()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 2, changes[0].Change.RetryCount)

	// Third pass succeeds and empties the queue.
	engine.ForceSync(context.Background())

	count, err := store.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, engine.CurrentStatus().Error)
}

func TestRetryCapDropsRecordTerminally(t *testing.T) {
	tr := newScriptedTransport()
	tr.failAll = true
	engine, store := newTestEngine(t, tr, 3)
	markOnline(engine)

	_, err := store.SaveDocument(models.Document{ID: "doc-1", Content: "a"})
	require.NoError(t, err)

	changes, err := store.PendingChanges()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	id := changes[0].Change.ID

	for i := 0; i < 5; i++ {
		engine.ForceSync(context.Background())
	}

	// Exactly maxRetries attempts, never a fourth.
	assert.Equal(t, 3, tr.attemptCount(id))

	count, err := store.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	status := engine.CurrentStatus()
	assert.Contains(t, status.Error, id)
	assert.Contains(t, status.Error, "doc-1")
	assert.True(t, status.LastSync.IsZero())

	// The document stays dirty: it was never acknowledged.
	doc, err := store.LoadDocument("doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.True(t, doc.IsDirty)

	engine.ClearError()
	assert.Empty(t, engine.CurrentStatus().Error)
}

func TestDrainIsReentrantSafe(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls int32
	var mu sync.Mutex

	tr := TransportFunc(func(context.Context, models.PendingChange) error {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	engine, store := newTestEngine(t, tr, 3)
	markOnline(engine)

	_, err := store.SaveDocument(models.Document{ID: "doc-1", Content: "a"})
	require.NoError(t, err)

	go engine.Drain(context.Background())
	<-started

	// A second trigger while draining is a no-op.
	engine.ForceSync(context.Background())

	mu.Lock()
	assert.Equal(t, int32(1), calls)
	mu.Unlock()

	close(block)
	require.Eventually(t, func() bool {
		c, err := store.PendingCount()
		return err == nil && c == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStatusBroadcastOnDrain(t *testing.T) {
	tr := newScriptedTransport()
	engine, store := newTestEngine(t, tr, 3)

	statusCh, stop := engine.Status.Subscribe(16)
	defer stop()

	_, err := store.SaveDocument(models.Document{ID: "doc-1", Content: "a"})
	require.NoError(t, err)

	engine.SetOnline(true)

	require.Eventually(t, func() bool {
		for {
			select {
			case status := <-statusCh:
				if status.PendingItems == 0 && !status.LastSync.IsZero() {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}
