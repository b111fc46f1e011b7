// Package syncqueue drains the pending-change queue against a remote
// endpoint whenever the device is online.
//
// The engine is a small state machine: Idle until a connectivity transition
// or a force-sync request starts a drain pass, then back to Idle (possibly
// carrying a terminal error string) when the pass completes. A drain trigger
// while a pass is running is absorbed as a no-op.
package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/plumeapp/plume.go/pkg/events"
	"github.com/plumeapp/plume.go/pkg/localstore"
	"github.com/plumeapp/plume.go/pkg/logger"
	"github.com/plumeapp/plume.go/pkg/models"
)

// Transport delivers one pending change to the remote endpoint. Any nil
// return is an acknowledgment; any error is a transport failure counted
// against the record's retry limit.
type Transport interface {
	Push(ctx context.Context, change models.PendingChange) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, change models.PendingChange) error

func (f TransportFunc) Push(ctx context.Context, change models.PendingChange) error {
	return f(ctx, change)
}

// Queue is the slice of the local store the engine drains. *localstore.Store
// satisfies it.
type Queue interface {
	PendingChanges() ([]localstore.QueuedChange, error)
	UpdateChange(localstore.QueuedChange) error
	RemoveChange(seq uint64) error
	PendingCount() (int, error)
	MarkSynced(id string) error
}

// Options configures an Engine.
type Options struct {
	Queue     Queue
	Transport Transport

	// RetryInterval seeds the backoff used to schedule a follow-up drain
	// after a pass that left failed records queued. Defaults to 2s.
	RetryInterval time.Duration

	// MaxRetryInterval caps the follow-up backoff. Defaults to 1m.
	MaxRetryInterval time.Duration

	Logger logger.Logger
}

// Engine drains the pending-change queue.
type Engine struct {
	queue     Queue
	transport Transport
	log       logger.Logger

	// Status publishes a snapshot after every drain pass and on
	// connectivity transitions.
	Status *events.Bus[models.SyncStatus]

	mu       sync.Mutex
	online   bool
	draining bool
	lastSync time.Time
	lastErr  string
	closed   bool

	bo         *backoff.ExponentialBackOff
	retryTimer *time.Timer
}

// New returns an idle, offline engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Nop{}
	}

	bo := backoff.NewExponentialBackOff()
	if opts.RetryInterval > 0 {
		bo.InitialInterval = opts.RetryInterval
	} else {
		bo.InitialInterval = 2 * time.Second
	}
	if opts.MaxRetryInterval > 0 {
		bo.MaxInterval = opts.MaxRetryInterval
	} else {
		bo.MaxInterval = time.Minute
	}
	bo.MaxElapsedTime = 0 // rescheduling stops when the queue empties, not on a clock
	bo.Reset()

	return &Engine{
		queue:     opts.Queue,
		transport: opts.Transport,
		log:       log,
		Status:    events.NewBus[models.SyncStatus](),
		bo:        bo,
	}
}

// SetOnline records a connectivity transition. Going from offline to online
// starts a drain pass in the background.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	if e.retryTimer != nil && !online {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	e.publishStatus()

	if online && !wasOnline {
		go e.Drain(context.Background())
	}
}

// Online reports the last recorded connectivity state.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// ForceSync starts a drain pass regardless of how recently one ran. A pass
// already in flight absorbs the request.
func (e *Engine) ForceSync(ctx context.Context) {
	e.Drain(ctx)
}

// Drain runs one pass over the queue in enqueue order. It is re-entrant
// safe: concurrent calls beyond the first return immediately.
func (e *Engine) Drain(ctx context.Context) {
	e.mu.Lock()
	if e.draining || !e.online || e.closed {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	e.publishStatus()

	succeeded, failed := e.drainPass(ctx)

	e.mu.Lock()
	e.draining = false
	if succeeded > 0 {
		e.lastSync = time.Now()
		e.bo.Reset()
	}
	scheduleRetry := failed > 0 && e.online && !e.closed
	var delay time.Duration
	if scheduleRetry {
		delay = e.bo.NextBackOff()
		if e.retryTimer != nil {
			e.retryTimer.Stop()
		}
		e.retryTimer = time.AfterFunc(delay, func() { e.Drain(context.Background()) })
	}
	e.mu.Unlock()

	e.publishStatus()

	if scheduleRetry {
		e.log.Debug("drain pass left failures queued", "failed", failed, "next_attempt_in", delay)
	}
}

// drainPass attempts each queued record once, in order, and returns how many
// succeeded and how many failed but remain queued.
func (e *Engine) drainPass(ctx context.Context) (succeeded, failed int) {
	changes, err := e.queue.PendingChanges()
	if err != nil {
		e.setError(fmt.Sprintf("reading pending changes: %v", err))
		return 0, 0
	}

	for _, qc := range changes {
		if ctx.Err() != nil || !e.Online() {
			break
		}

		if err := e.transport.Push(ctx, qc.Change); err != nil {
			qc.Change.RetryCount++
			if qc.Change.RetryCount >= qc.Change.MaxRetries {
				// Terminal: drop the record, surface the error.
				if rmErr := e.queue.RemoveChange(qc.Seq); rmErr != nil {
					e.log.Error("dropping exhausted change", "change_id", qc.Change.ID, "error", rmErr)
				}
				e.setError(fmt.Sprintf("change %s for document %s dropped after %d attempts: %v",
					qc.Change.ID, qc.Change.DocumentID, qc.Change.RetryCount, err))
				e.log.Warn("pending change exhausted retries",
					"change_id", qc.Change.ID, "document_id", qc.Change.DocumentID, "error", err)
			} else {
				if upErr := e.queue.UpdateChange(qc); upErr != nil {
					e.log.Error("persisting retry count", "change_id", qc.Change.ID, "error", upErr)
				}
				failed++
			}
			continue
		}

		if err := e.queue.RemoveChange(qc.Seq); err != nil {
			e.log.Error("removing delivered change", "change_id", qc.Change.ID, "error", err)
			continue
		}
		if qc.Change.Type != models.ChangeDelete {
			if err := e.queue.MarkSynced(qc.Change.DocumentID); err != nil {
				e.log.Error("clearing dirty flag", "document_id", qc.Change.DocumentID, "error", err)
			}
		}
		succeeded++
	}

	return succeeded, failed
}

func (e *Engine) setError(msg string) {
	e.mu.Lock()
	e.lastErr = msg
	e.mu.Unlock()
}

// ClearError resets the terminal error surfaced on the status snapshot.
func (e *Engine) ClearError() {
	e.setError("")
	e.publishStatus()
}

// CurrentStatus returns a point-in-time snapshot, for polling consumers.
func (e *Engine) CurrentStatus() models.SyncStatus {
	pending, err := e.queue.PendingCount()
	if err != nil {
		e.log.Error("counting pending changes", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return models.SyncStatus{
		IsOnline:     e.online,
		IsSyncing:    e.draining,
		LastSync:     e.lastSync,
		PendingItems: pending,
		Error:        e.lastErr,
	}
}

func (e *Engine) publishStatus() {
	e.Status.Publish(e.CurrentStatus())
}

// Close stops any scheduled follow-up drain and closes the status bus.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()
	e.Status.Close()
}
