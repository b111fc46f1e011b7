// Package resolver turns a set of concurrently authored edit operations
// into one deterministic document string.
//
// The log is an offset-based reconciliation heuristic, not a CRDT: there are
// no tombstones or vector clocks, and heavily overlapping concurrent
// rewrites of one region can diverge between peers. That trade-off is
// deliberate; the intended workload is small interleaved edits.
package resolver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/plumeapp/plume.go/pkg/logger"
	"github.com/plumeapp/plume.go/pkg/models"
)

// ErrStaleOperation is returned when an operation's version is not strictly
// greater than the log's current version. Stale replay is a concurrency
// no-op, not a fault.
var ErrStaleOperation = errors.New("stale operation version")

// DefaultAdjustWindow bounds how far back in time an accepted operation is
// still considered "recent" when adjusting an incoming operation's offset.
const DefaultAdjustWindow = 5 * time.Second

// Log is the append-only, versioned operation log owned by one in-memory
// session. It is rebuilt fresh per session and never persisted; persisted
// content is a snapshot materialized elsewhere.
type Log struct {
	mu      sync.Mutex
	version int64
	ops     []models.Operation
	window  time.Duration
	log     logger.Logger
}

// Option mutates a Log at construction time.
type Option func(*Log)

// WithAdjustWindow overrides DefaultAdjustWindow.
func WithAdjustWindow(w time.Duration) Option {
	return func(l *Log) { l.window = w }
}

// WithLogger injects a logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Log) { l.log = log }
}

// NewLog returns an empty log at version 0.
func NewLog(opts ...Option) *Log {
	l := &Log{window: DefaultAdjustWindow, log: logger.Nop{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Version returns the highest accepted operation version.
func (l *Log) Version() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Operations returns a copy of the accepted operations in acceptance order.
func (l *Log) Operations() []models.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Operation(nil), l.ops...)
}

// ApplyOperation accepts op into the log, or returns ErrStaleOperation when
// op.Version <= the current version.
//
// Before acceptance, op's offset is adjusted against recently accepted
// operations whose ranges overlap op's range: an earlier insert at or before
// op shifts op right by the inserted length, and an earlier delete at or
// before op shifts op left by the deleted length, floored at zero. That way
// two peers inserting at the same offset settle in first-accepted-first
// order instead of clobbering each other.
func (l *Log) ApplyOperation(op models.Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if op.Version <= l.version {
		l.log.Debug("rejected stale operation",
			"op_version", op.Version, "log_version", l.version, "user_id", op.UserID)
		return ErrStaleOperation
	}

	l.adjustLocked(&op)

	l.ops = append(l.ops, op)
	l.version = op.Version
	return nil
}

func (l *Log) adjustLocked(op *models.Operation) {
	for _, existing := range l.ops {
		if op.Timestamp.Sub(existing.Timestamp) > l.window {
			continue
		}
		if !overlaps(existing, *op) {
			continue
		}

		switch {
		case existing.Type == models.OpInsert && op.Type == models.OpInsert &&
			existing.Position <= op.Position:
			op.Position += len(existing.Text)

		case existing.Type == models.OpDelete && op.Type == models.OpInsert &&
			existing.Position <= op.Position:
			op.Position -= existing.Length
			if op.Position < 0 {
				op.Position = 0
			}
		}
	}
}

func overlaps(a, b models.Operation) bool {
	aStart, aEnd := a.Span()
	bStart, bEnd := b.Span()
	return aStart <= bEnd && bStart <= aEnd
}

// GetContent replays all accepted operations in timestamp order (version
// order on ties) against an empty string and returns the result.
func (l *Log) GetContent() string {
	l.mu.Lock()
	ordered := append([]models.Operation(nil), l.ops...)
	l.mu.Unlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Version < ordered[j].Version
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	content := ""
	for _, op := range ordered {
		content = apply(content, op)
	}
	return content
}

// apply performs one operation against s, clamping the offset range into
// the current bounds.
func apply(s string, op models.Operation) string {
	switch op.Type {
	case models.OpInsert:
		pos := clamp(op.Position, 0, len(s))
		return s[:pos] + op.Text + s[pos:]

	case models.OpDelete:
		pos := clamp(op.Position, 0, len(s))
		end := clamp(op.Position+op.Length, pos, len(s))
		return s[:pos] + s[end:]

	case models.OpReplace:
		pos := clamp(op.Position, 0, len(s))
		end := clamp(op.Position+op.Length, pos, len(s))
		return s[:pos] + op.Text + s[end:]

	default:
		return s
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
