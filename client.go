package plume

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/plumeapp/plume.go/pkg/collab"
	"github.com/plumeapp/plume.go/pkg/localstore"
	"github.com/plumeapp/plume.go/pkg/logger"
	"github.com/plumeapp/plume.go/pkg/models"
	"github.com/plumeapp/plume.go/pkg/resolver"
	"github.com/plumeapp/plume.go/pkg/syncqueue"
)

// lastSyncSettingKey is where the client persists the last successful sync
// time across restarts, in the store's settings region.
const lastSyncSettingKey = "sync.last"

// Client composes the local store, the sync engine and the collaboration
// session for one application instance. Construct with New, tear down with
// Close; pass the instance to consumers instead of sharing a global.
type Client struct {
	Store   *localstore.Store
	Syncer  *syncqueue.Engine
	Session *collab.Session

	log       logger.Logger
	statusCh  <-chan models.SyncStatus
	statusOff func()
}

// New opens the store and assembles the engine and, when CollabURL is set,
// the session. The session is constructed but not connected; call
// Client.Session.Connect when a collaboration UI comes up.
func New(cfg Config) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop{}
	}

	store, err := localstore.Open(localstore.Options{
		Path:       cfg.StorePath,
		MaxRetries: cfg.MaxRetries,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = syncqueue.TransportFunc(func(context.Context, models.PendingChange) error {
			return errors.New("no sync transport configured")
		})
	}

	engine := syncqueue.New(syncqueue.Options{
		Queue:         store,
		Transport:     transport,
		RetryInterval: cfg.RetryInterval,
		Logger:        log,
	})

	c := &Client{
		Store:  store,
		Syncer: engine,
		log:    log,
	}

	if cfg.CollabURL != "" {
		c.Session = collab.NewSession(collab.Config{
			URL:               cfg.CollabURL,
			Retryer:           cfg.Retryer,
			TypingIdleTimeout: cfg.TypingIdleTimeout,
			Resolver:          resolver.NewLog(resolver.WithLogger(log)),
			Logger:            log,
		})
	}

	// Persist the last successful sync time so the indicator survives a
	// restart.
	ch, off := engine.Status.Subscribe(8)
	c.statusCh, c.statusOff = ch, off
	go c.recordSyncTimes()

	return c, nil
}

func (c *Client) recordSyncTimes() {
	for status := range c.statusCh {
		if status.LastSync.IsZero() {
			continue
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(status.LastSync.Unix()))
		if err := c.Store.SaveSetting(lastSyncSettingKey, buf); err != nil {
			c.log.Error("persisting last sync time", "error", err)
		}
	}
}

// LastSync returns the persisted last successful sync time, or zero when
// the client has never synced.
func (c *Client) LastSync() (time.Time, error) {
	raw, err := c.Store.LoadSetting(lastSyncSettingKey)
	if err != nil || len(raw) != 8 {
		return time.Time{}, err
	}
	return time.Unix(int64(binary.BigEndian.Uint64(raw)), 0), nil
}

// Close disposes every component. The context bounds the collaboration
// close handshake.
func (c *Client) Close(ctx context.Context) error {
	var errs []error

	if c.Session != nil {
		if err := c.Session.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing session: %w", err))
		}
	}

	c.Syncer.Close()
	c.statusOff()

	if err := c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}
