// Package collab manages one connection to a shared editing room: peer
// presence, document operations, chat and the exclusive-edit lock.
//
// A Session owns a single websocket connection. Inbound events fan out on
// typed buses; outbound calls are fire-and-forget sends. An unexpected
// disconnect triggers reconnection with a doubling backoff up to a fixed
// attempt cap; exhausting the cap is terminal and requires a fresh Connect.
package collab

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/plumeapp/plume.go/internal/rand"
	"github.com/plumeapp/plume.go/pkg/events"
	"github.com/plumeapp/plume.go/pkg/logger"
	"github.com/plumeapp/plume.go/pkg/models"
	"github.com/plumeapp/plume.go/pkg/resolver"
)

var (
	// ErrNotConnected is returned by sends issued outside the Connected
	// state.
	ErrNotConnected = errors.New("session is not connected")

	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("session is already connected")

	// ErrNoRoom is returned by room-scoped sends before a room is joined.
	ErrNoRoom = errors.New("no room joined")
)

// DefaultDialer mirrors gorilla's default dialer with compression enabled
// and the cbor subprotocol requested.
var DefaultDialer = &websocket.Dialer{
	Proxy:             http.ProxyFromEnvironment,
	HandshakeTimeout:  45 * time.Second,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

// presencePalette is the fixed set of colors assigned to peers. Assignment
// is deterministic per user id so every peer renders a user the same way.
var presencePalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#008080", "#9a6324",
}

// UserProfile is the identity handed in by the consuming application.
type UserProfile struct {
	ID   string
	Name string
}

// Config configures a Session.
type Config struct {
	// URL is the websocket endpoint of the collaboration relay.
	URL string

	// Dialer defaults to DefaultDialer.
	Dialer *websocket.Dialer

	// Retryer governs reconnection after an unexpected disconnect.
	// Defaults to NewDoublingRetryer.
	Retryer Retryer

	// TypingIdleTimeout is how long after the last typing-started send the
	// session auto-broadcasts typing-stopped. Defaults to 2s.
	TypingIdleTimeout time.Duration

	// Resolver receives every document-changed operation, locally authored
	// ones included (they apply on receipt-echo). Defaults to a fresh log.
	Resolver *resolver.Log

	Logger logger.Logger
}

// Events groups the typed buses a Session publishes on.
type Events struct {
	RoomJoined         *events.Bus[models.Room]
	UserJoined         *events.Bus[models.User]
	UserLeft           *events.Bus[string]
	CursorMoved        *events.Bus[CursorEvent]
	TextSelected       *events.Bus[SelectionEvent]
	TypingStarted      *events.Bus[string]
	TypingStopped      *events.Bus[string]
	DocumentChanged    *events.Bus[models.Operation]
	MessageReceived    *events.Bus[models.ChatMessage]
	RoomLocked         *events.Bus[models.RoomLock]
	ReconnectionFailed *events.Bus[error]
}

func newEvents() *Events {
	return &Events{
		RoomJoined:         events.NewBus[models.Room](),
		UserJoined:         events.NewBus[models.User](),
		UserLeft:           events.NewBus[string](),
		CursorMoved:        events.NewBus[CursorEvent](),
		TextSelected:       events.NewBus[SelectionEvent](),
		TypingStarted:      events.NewBus[string](),
		TypingStopped:      events.NewBus[string](),
		DocumentChanged:    events.NewBus[models.Operation](),
		MessageReceived:    events.NewBus[models.ChatMessage](),
		RoomLocked:         events.NewBus[models.RoomLock](),
		ReconnectionFailed: events.NewBus[error](),
	}
}

func (e *Events) close() {
	e.RoomJoined.Close()
	e.UserJoined.Close()
	e.UserLeft.Close()
	e.CursorMoved.Close()
	e.TextSelected.Close()
	e.TypingStarted.Close()
	e.TypingStopped.Close()
	e.DocumentChanged.Close()
	e.MessageReceived.Close()
	e.RoomLocked.Close()
	e.ReconnectionFailed.Close()
}

// Session is the collaboration session manager. Construct with NewSession,
// connect with Connect, tear down with Close.
type Session struct {
	cfg      Config
	log      logger.Logger
	resolver *resolver.Log

	// Events carries every inbound notification.
	Events *Events

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	user         models.User
	room         *models.Room
	roomID       string
	documentID   string
	localVersion int64
	typingTimer  *time.Timer
	closed       bool
	closeCh      chan struct{}

	writeMu sync.Mutex
}

// NewSession returns a disconnected session.
func NewSession(cfg Config) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = DefaultDialer
	}
	if cfg.Retryer == nil {
		cfg.Retryer = NewDoublingRetryer()
	}
	if cfg.TypingIdleTimeout <= 0 {
		cfg.TypingIdleTimeout = 2 * time.Second
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolver.NewLog()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop{}
	}

	return &Session{
		cfg:      cfg,
		log:      log,
		resolver: cfg.Resolver,
		Events:   newEvents(),
		state:    StateDisconnected,
		closeCh:  make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the presence identity derived on Connect.
func (s *Session) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Room returns a copy of the current room snapshot, or nil before a room
// is joined.
func (s *Session) Room() *models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	room := *s.room
	room.Users = append([]models.User(nil), s.room.Users...)
	return &room
}

// Resolver exposes the conflict log the session applies inbound operations
// to.
func (s *Session) Resolver() *resolver.Log {
	return s.resolver
}

func (s *Session) transitionTo(newState State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionToLocked(newState)
}

func (s *Session) transitionToLocked(newState State) error {
	if err := s.state.validateTransitionTo(newState); err != nil {
		return err
	}
	s.state = newState
	s.log.Debug("session state transitioned", "new_state", newState.String())
	return nil
}

// Connect establishes the websocket connection and derives the presence
// identity from profile. An initial connection failure is returned to the
// caller rather than retried: reconnection backoff only applies to drops of
// an established session.
func (s *Session) Connect(ctx context.Context, profile UserProfile) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	if s.state == StateConnected || s.state == StateConnecting || s.state == StateReconnecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if err := s.transitionToLocked(StateConnecting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		if stateErr := s.transitionTo(StateDisconnected); stateErr != nil {
			s.log.Error("BUG: failed to transition to disconnected state", "error", stateErr)
		}
		return fmt.Errorf("connecting to %s: %w", s.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	id := profile.ID
	if id == "" {
		id = "guest-" + rand.String(8)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errors.New("session closed during connect")
	}
	s.conn = conn
	s.user = models.User{
		ID:       id,
		Name:     profile.Name,
		Color:    colorFor(id),
		IsTyping: false,
		LastSeen: time.Now(),
	}
	s.mu.Unlock()

	if err := s.transitionTo(StateConnected); err != nil {
		panic(fmt.Sprintf("BUG: failed to transition to connected state: %v", err))
	}

	go s.readLoop(conn)
	return nil
}

// JoinRoom requests membership of a room bound to a document. The
// authoritative room snapshot arrives asynchronously as a room-joined event.
func (s *Session) JoinRoom(roomID, documentID string) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.roomID = roomID
	s.documentID = documentID
	user := s.user
	s.mu.Unlock()

	return s.send(evtJoinRoom, joinRoomPayload{
		RoomID:     roomID,
		DocumentID: documentID,
		User:       user,
	})
}

// LeaveRoom withdraws from the current room.
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	roomID := s.roomID
	userID := s.user.ID
	s.roomID = ""
	s.documentID = ""
	s.room = nil
	s.mu.Unlock()

	if roomID == "" {
		return ErrNoRoom
	}
	return s.send(evtLeaveRoom, leaveRoomPayload{RoomID: roomID, UserID: userID})
}

// SendCursorPosition broadcasts the local caret location. Fire-and-forget.
func (s *Session) SendCursorPosition(line, column int) error {
	s.mu.Lock()
	userID := s.user.ID
	s.mu.Unlock()

	return s.send(evtCursorMoved, CursorEvent{
		UserID: userID,
		Cursor: models.CursorPosition{Line: line, Column: column, Timestamp: time.Now()},
	})
}

// SendTextSelection broadcasts the local selection. Fire-and-forget.
func (s *Session) SendTextSelection(sel models.TextSelection) error {
	s.mu.Lock()
	userID := s.user.ID
	s.mu.Unlock()

	if sel.Timestamp.IsZero() {
		sel.Timestamp = time.Now()
	}
	return s.send(evtTextSelected, SelectionEvent{UserID: userID, Selection: sel})
}

// SendTypingStarted broadcasts a typing indicator and arms (or re-arms) the
// local idle timer that auto-broadcasts typing-stopped. The remote peer is
// never responsible for expiring the indicator.
func (s *Session) SendTypingStarted() error {
	s.mu.Lock()
	userID := s.user.ID
	s.user.IsTyping = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingIdleTimeout, func() {
		if err := s.SendTypingStopped(); err != nil {
			s.log.Debug("typing auto-stop send failed", "error", err)
		}
	})
	s.mu.Unlock()

	return s.send(evtTypingStarted, typingPayload{UserID: userID})
}

// SendTypingStopped broadcasts the end of typing and disarms the idle timer.
func (s *Session) SendTypingStopped() error {
	s.mu.Lock()
	userID := s.user.ID
	s.user.IsTyping = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	return s.send(evtTypingStopped, typingPayload{UserID: userID})
}

// SendDocumentOperation completes a partial operation with the local user
// id, the current time and the next local version, then transmits it. The
// operation is not applied locally here: it reaches the resolver on
// receipt-echo like any other peer's operation. The completed operation is
// returned for the caller's bookkeeping.
func (s *Session) SendDocumentOperation(op models.Operation) (models.Operation, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return models.Operation{}, ErrNotConnected
	}
	s.localVersion++
	op.UserID = s.user.ID
	op.Timestamp = time.Now()
	op.Version = s.localVersion
	s.mu.Unlock()

	if err := s.send(evtDocOperation, op); err != nil {
		return models.Operation{}, err
	}
	return op, nil
}

// SendMessage appends a chat message to the room's stream.
func (s *Session) SendMessage(content string) (models.ChatMessage, error) {
	s.mu.Lock()
	roomID := s.roomID
	user := s.user
	s.mu.Unlock()

	if roomID == "" {
		return models.ChatMessage{}, ErrNoRoom
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    user.ID,
		UserName:  user.Name,
		Content:   content,
		Timestamp: time.Now(),
		Type:      models.MessageChat,
	}
	if err := s.send(evtSendMessage, msg); err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// ToggleRoomLock requests the exclusive-edit lock. Ownership arbitration is
// server-side; the session only reflects the room-locked event that follows.
func (s *Session) ToggleRoomLock() error {
	s.mu.Lock()
	roomID := s.roomID
	userID := s.user.ID
	s.mu.Unlock()

	if roomID == "" {
		return ErrNoRoom
	}
	return s.send(evtToggleRoomLock, toggleLockPayload{RoomID: roomID, UserID: userID})
}

// Close tears the session down: no reconnection is attempted and all event
// buses are closed. The context bounds the websocket close handshake.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	conn := s.conn
	s.conn = nil
	if err := s.transitionToLocked(StateDisconnected); err != nil {
		s.log.Error("BUG: failed to transition to disconnected state", "error", err)
	}
	s.mu.Unlock()

	var closeErr error
	if conn != nil {
		// Best effort: tell the relay we're going, then close locally
		// regardless so resources are not leaked.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}()
		select {
		case err := <-writeErr:
			if err != nil {
				s.log.Debug("failed to write close message", "error", err)
			}
		case <-ctx.Done():
		}
		closeErr = conn.Close()
	}

	s.Events.close()
	return closeErr
}

// send serializes one envelope onto the connection.
func (s *Session) send(eventType string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("sending %s: %w", eventType, err)
	}
	return nil
}

func colorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return presencePalette[int(h.Sum32())%len(presencePalette)]
}
