package models

import "time"

// CursorPosition is a peer's caret location.
type CursorPosition struct {
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	Timestamp time.Time `json:"timestamp"`
}

// TextSelection is a peer's selected range, anchored by two cursors.
type TextSelection struct {
	Start        CursorPosition `json:"start"`
	End          CursorPosition `json:"end"`
	SelectedText string         `json:"selected_text,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// User is a peer's live presence inside a room. Created on join, updated on
// every presence event, removed on leave or session teardown.
type User struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Color     string          `json:"color"`
	IsTyping  bool            `json:"is_typing"`
	LastSeen  time.Time       `json:"last_seen"`
	Cursor    *CursorPosition `json:"cursor,omitempty"`
	Selection *TextSelection  `json:"selection,omitempty"`
}

// Room is an ephemeral collaboration session bound to one document. It is
// never persisted; the content field is a denormalized live snapshot.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	DocumentID   string    `json:"document_id"`
	Users        []User    `json:"users"`
	Content      string    `json:"content"`
	LastModified time.Time `json:"last_modified"`
	IsLocked     bool      `json:"is_locked"`
	LockOwner    string    `json:"lock_owner,omitempty"`
}

// MessageType is the kind of a chat message.
type MessageType string

const (
	MessageChat   MessageType = "message"
	MessageSystem MessageType = "system"
	MessageAction MessageType = "action"
)

// ChatMessage is one entry in a room's append-only message stream.
type ChatMessage struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	UserID    string      `json:"user_id"`
	UserName  string      `json:"user_name"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}

// RoomLock reflects the server-arbitrated exclusive-edit lock of a room.
type RoomLock struct {
	RoomID    string `json:"room_id"`
	IsLocked  bool   `json:"is_locked"`
	LockOwner string `json:"lock_owner,omitempty"`
}
