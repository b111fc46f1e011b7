package plume

import (
	"time"

	"github.com/plumeapp/plume.go/pkg/collab"
	"github.com/plumeapp/plume.go/pkg/logger"
	"github.com/plumeapp/plume.go/pkg/syncqueue"
)

// Config wires one Client. Everything is injected explicitly; there is no
// ambient global instance.
type Config struct {
	// StorePath is the bbolt file the local store opens.
	StorePath string

	// Transport delivers pending changes to the remote document store.
	// Required for syncing; the Client works offline-only without it.
	Transport syncqueue.Transport

	// CollabURL is the websocket endpoint of the collaboration relay.
	// Leave empty to run without a collaboration session.
	CollabURL string

	// MaxRetries is the per-change transmission retry limit.
	MaxRetries int

	// RetryInterval seeds the sync engine's inter-drain backoff.
	RetryInterval time.Duration

	// TypingIdleTimeout overrides the 2s typing auto-stop window.
	TypingIdleTimeout time.Duration

	// Retryer overrides the session's reconnection policy.
	Retryer collab.Retryer

	// Logger defaults to the no-op logger.
	Logger logger.Logger
}
