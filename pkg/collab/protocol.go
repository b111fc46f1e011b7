package collab

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/plumeapp/plume.go/pkg/models"
)

// Envelope is the wire frame: an event name plus a CBOR-encoded payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload cbor.RawMessage `json:"payload,omitempty"`
}

// Outbound event names.
const (
	evtJoinRoom       = "join-room"
	evtLeaveRoom      = "leave-room"
	evtDocOperation   = "document-operation"
	evtCursorMoved    = "cursor-moved"
	evtTextSelected   = "text-selected"
	evtTypingStarted  = "typing-started"
	evtTypingStopped  = "typing-stopped"
	evtSendMessage    = "send-message"
	evtToggleRoomLock = "toggle-room-lock"
)

// Inbound event names. Presence and typing names are shared with the
// outbound direction.
const (
	evtRoomJoined      = "room-joined"
	evtUserJoined      = "user-joined"
	evtUserLeft        = "user-left"
	evtDocChanged      = "document-changed"
	evtMessageReceived = "message-received"
	evtRoomLocked      = "room-locked"
)

type joinRoomPayload struct {
	RoomID     string      `json:"room_id"`
	DocumentID string      `json:"document_id"`
	User       models.User `json:"user"`
}

type leaveRoomPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type toggleLockPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type userLeftPayload struct {
	UserID string `json:"user_id"`
}

type typingPayload struct {
	UserID string `json:"user_id"`
}

// CursorEvent pairs a peer id with its reported cursor.
type CursorEvent struct {
	UserID string                `json:"user_id"`
	Cursor models.CursorPosition `json:"cursor"`
}

// SelectionEvent pairs a peer id with its reported selection.
type SelectionEvent struct {
	UserID    string               `json:"user_id"`
	Selection models.TextSelection `json:"selection"`
}

func encodeEnvelope(eventType string, payload any) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if payload != nil {
		raw, err = cbor.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
	}
	data, err := cbor.Marshal(Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", eventType, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}

func decodePayload[T any](env Envelope) (T, error) {
	var v T
	if err := cbor.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return v, nil
}
