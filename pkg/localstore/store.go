// Package localstore persists documents, the pending-change queue and
// opaque settings on one client device.
//
// The backing store is a single bbolt file with three buckets. Document
// content is gzip-compressed before encoding; records are CBOR. The store is
// the single writer of persisted state on a device: cross-process access is
// out of scope.
package localstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/plumeapp/plume.go/pkg/events"
	"github.com/plumeapp/plume.go/pkg/logger"
	"github.com/plumeapp/plume.go/pkg/models"
)

// ErrStorageUnavailable wraps any failure to open or transact against the
// underlying store file.
var ErrStorageUnavailable = errors.New("local storage unavailable")

var (
	bucketDocuments = []byte("documents")
	bucketChanges   = []byte("changes")
	bucketSettings  = []byte("settings")
)

// DefaultMaxRetries is the per-change transmission retry limit assigned to
// newly enqueued pending changes.
const DefaultMaxRetries = 3

// Options configures a Store.
type Options struct {
	// Path is the bbolt file location.
	Path string

	// MaxRetries overrides DefaultMaxRetries for newly enqueued changes.
	MaxRetries int

	// Logger defaults to the no-op logger.
	Logger logger.Logger
}

// Store owns the persisted documents and the pending-change queue.
//
// Every mutating call appends to the pending-change queue and publishes on
// the corresponding event bus, so a sync indicator can observe save/delete
// activity without polling.
type Store struct {
	db         *bolt.DB
	maxRetries int
	log        logger.Logger

	// Saved and Deleted publish the affected document after every
	// successful mutation.
	Saved   *events.Bus[models.Document]
	Deleted *events.Bus[string]
}

// Open opens (creating if needed) the store file and its buckets.
func Open(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDocuments, bucketChanges, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return &Store{
		db:         db,
		maxRetries: maxRetries,
		log:        log,
		Saved:      events.NewBus[models.Document](),
		Deleted:    events.NewBus[string](),
	}, nil
}

// Close closes the store file and the event buses.
func (s *Store) Close() error {
	s.Saved.Close()
	s.Deleted.Close()
	return s.db.Close()
}

// storedDocument is the on-disk shape: content travels as a compressed blob.
type storedDocument struct {
	ID           string                  `json:"id"`
	Title        string                  `json:"title"`
	Content      []byte                  `json:"content"`
	LastModified time.Time               `json:"last_modified"`
	Version      int64                   `json:"version"`
	IsDirty      bool                    `json:"is_dirty"`
	Metadata     models.DocumentMetadata `json:"metadata"`
}

// SaveDocument persists doc with version = priorVersion+1 and IsDirty set,
// recomputes metadata, enqueues an update change record, and publishes the
// stored document on Saved. The returned document reflects the stored state.
func (s *Store) SaveDocument(doc models.Document) (models.Document, error) {
	compressed, err := compress([]byte(doc.Content))
	if err != nil {
		return models.Document{}, fmt.Errorf("compressing document %q: %w", doc.ID, err)
	}

	stored := doc
	err = s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)

		var priorVersion int64
		if raw := docs.Get([]byte(doc.ID)); raw != nil {
			var prev storedDocument
			if err := cbor.Unmarshal(raw, &prev); err != nil {
				return fmt.Errorf("decoding prior document %q: %w", doc.ID, err)
			}
			priorVersion = prev.Version
		}

		stored.Version = priorVersion + 1
		stored.IsDirty = true
		stored.LastModified = time.Now()
		stored.Metadata = models.ComputeMetadata(doc.Content, doc.Metadata)

		rec := storedDocument{
			ID:           stored.ID,
			Title:        stored.Title,
			Content:      compressed,
			LastModified: stored.LastModified,
			Version:      stored.Version,
			IsDirty:      stored.IsDirty,
			Metadata:     stored.Metadata,
		}
		raw, err := cbor.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding document %q: %w", doc.ID, err)
		}
		if err := docs.Put([]byte(doc.ID), raw); err != nil {
			return err
		}

		return s.enqueueChange(tx, models.ChangeUpdate, stored.ID, raw)
	})
	if err != nil {
		return models.Document{}, err
	}

	s.log.Debug("document saved", "id", stored.ID, "version", stored.Version)
	s.Saved.Publish(stored)
	return stored, nil
}

// LoadDocument returns the decompressed document, or (nil, nil) when the id
// is unknown. A missing key is a not-found result, never an error.
func (s *Store) LoadDocument(id string) (*models.Document, error) {
	var doc *models.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDocuments).Get([]byte(id))
		if raw == nil {
			return nil
		}
		d, err := decodeDocument(raw)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns every stored document, decompressed. Order is
// unspecified.
func (s *Store) ListDocuments() ([]models.Document, error) {
	var out []models.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(_, raw []byte) error {
			d, err := decodeDocument(raw)
			if err != nil {
				return err
			}
			out = append(out, *d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDocument removes the document and enqueues a delete change record.
// Deleting an unknown id is a no-op that still enqueues the delete, so that
// a remotely known document deleted while offline is torn down remotely too.
func (s *Store) DeleteDocument(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDocuments).Delete([]byte(id)); err != nil {
			return err
		}
		return s.enqueueChange(tx, models.ChangeDelete, id, nil)
	})
	if err != nil {
		return err
	}

	s.log.Debug("document deleted", "id", id)
	s.Deleted.Publish(id)
	return nil
}

// MarkSynced clears the dirty flag after a confirmed remote acknowledgment.
// Unknown ids are ignored.
func (s *Store) MarkSynced(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		raw := docs.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var rec storedDocument
		if err := cbor.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.IsDirty = false
		updated, err := cbor.Marshal(rec)
		if err != nil {
			return err
		}
		return docs.Put([]byte(id), updated)
	})
}

// SaveSetting stores an opaque value under key in the settings region.
func (s *Store) SaveSetting(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), value)
	})
}

// LoadSetting returns the value stored under key, or nil when absent.
func (s *Store) LoadSetting(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSettings).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeDocument(raw []byte) (*models.Document, error) {
	var rec storedDocument
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	content, err := decompress(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("decompressing document %q: %w", rec.ID, err)
	}
	return &models.Document{
		ID:           rec.ID,
		Title:        rec.Title,
		Content:      string(content),
		LastModified: rec.LastModified,
		Version:      rec.Version,
		IsDirty:      rec.IsDirty,
		Metadata:     rec.Metadata,
	}, nil
}

// enqueueChange appends a pending change inside the caller's transaction.
// Keys are the bucket's NextSequence encoded big-endian, which keeps the
// queue FIFO under bbolt's byte-ordered iteration.
func (s *Store) enqueueChange(tx *bolt.Tx, kind models.ChangeType, documentID string, data []byte) error {
	changes := tx.Bucket(bucketChanges)
	seq, err := changes.NextSequence()
	if err != nil {
		return err
	}

	change := models.PendingChange{
		ID:         uuid.NewString(),
		Type:       kind,
		DocumentID: documentID,
		Data:       data,
		Timestamp:  time.Now(),
		MaxRetries: s.maxRetries,
	}
	raw, err := cbor.Marshal(change)
	if err != nil {
		return err
	}
	return changes.Put(seqKey(seq), raw)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// QueuedChange pairs a pending change with its queue position key.
type QueuedChange struct {
	Seq    uint64
	Change models.PendingChange
}

// PendingChanges returns the queue in enqueue (FIFO) order.
func (s *Store) PendingChanges() ([]QueuedChange, error) {
	var out []QueuedChange
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChanges).ForEach(func(k, v []byte) error {
			var change models.PendingChange
			if err := cbor.Unmarshal(v, &change); err != nil {
				return fmt.Errorf("decoding pending change: %w", err)
			}
			out = append(out, QueuedChange{Seq: binary.BigEndian.Uint64(k), Change: change})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingCount returns the number of queued changes.
func (s *Store) PendingCount() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketChanges).Stats().KeyN
		return nil
	})
	return n, err
}

// UpdateChange rewrites a queued change in place, preserving its position.
func (s *Store) UpdateChange(qc QueuedChange) error {
	raw, err := cbor.Marshal(qc.Change)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChanges).Put(seqKey(qc.Seq), raw)
	})
}

// RemoveChange drops a queued change, either after successful transmission
// or once its retry limit is exceeded.
func (s *Store) RemoveChange(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChanges).Delete(seqKey(seq))
	})
}

