// Package models holds the shared data model of the document sync core:
// persisted documents and pending changes, conflict-log operations, and the
// ephemeral collaboration state (rooms, presence, chat).
package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Document is a persisted text document on one client device.
//
// Version strictly increases on every local mutation. IsDirty marks unsynced
// local changes and is cleared only after a confirmed remote acknowledgment.
type Document struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Content      string           `json:"content"`
	LastModified time.Time        `json:"last_modified"`
	Version      int64            `json:"version"`
	IsDirty      bool             `json:"is_dirty"`
	Metadata     DocumentMetadata `json:"metadata"`
}

// DocumentMetadata is derived data recomputed on every save.
type DocumentMetadata struct {
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
	Language  string `json:"language,omitempty"`
	Author    string `json:"author,omitempty"`
}

// ComputeMetadata returns metadata for the given content, preserving the
// language tag and author of the previous metadata.
func ComputeMetadata(content string, prev DocumentMetadata) DocumentMetadata {
	return DocumentMetadata{
		WordCount: len(strings.Fields(content)),
		CharCount: utf8.RuneCountInString(content),
		Language:  prev.Language,
		Author:    prev.Author,
	}
}

// ChangeType is the kind of a pending change record.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// PendingChange is one not-yet-acknowledged local mutation awaiting
// transmission to the remote store.
//
// RetryCount never exceeds MaxRetries: a record that fails MaxRetries times
// is dropped from the queue and surfaced as a terminal sync error.
type PendingChange struct {
	ID         string     `json:"id"`
	Type       ChangeType `json:"type"`
	DocumentID string     `json:"document_id"`
	Data       []byte     `json:"data,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
}

// OperationType is the kind of a conflict-log operation.
type OperationType string

const (
	OpInsert  OperationType = "insert"
	OpDelete  OperationType = "delete"
	OpReplace OperationType = "replace"
)

// Operation is an atomic edit in the conflict log: an insert, delete or
// replace at a character offset, tagged with its author, wall-clock
// timestamp and a monotonically increasing version.
type Operation struct {
	Type      OperationType `json:"type"`
	Position  int           `json:"position"`
	Length    int           `json:"length,omitempty"`
	Text      string        `json:"text,omitempty"`
	UserID    string        `json:"user_id"`
	Timestamp time.Time     `json:"timestamp"`
	Version   int64         `json:"version"`
}

// Span returns the half-open offset range [start, end) the operation
// touches in the document it was authored against.
func (op Operation) Span() (start, end int) {
	switch op.Type {
	case OpInsert:
		return op.Position, op.Position + len(op.Text)
	case OpDelete:
		return op.Position, op.Position + op.Length
	case OpReplace:
		n := op.Length
		if len(op.Text) > n {
			n = len(op.Text)
		}
		return op.Position, op.Position + n
	default:
		return op.Position, op.Position
	}
}

// SyncStatus is the snapshot surfaced to a sync indicator after every
// drain pass.
type SyncStatus struct {
	IsOnline     bool      `json:"is_online"`
	IsSyncing    bool      `json:"is_syncing"`
	LastSync     time.Time `json:"last_sync,omitempty"`
	PendingItems int       `json:"pending_items"`
	Error        string    `json:"error,omitempty"`
}
