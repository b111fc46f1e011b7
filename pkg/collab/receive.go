package collab

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plumeapp/plume.go/pkg/models"
	"github.com/plumeapp/plume.go/pkg/resolver"
)

// readLoop reads envelopes off one connection until it fails or the session
// closes. A read failure on a live session hands off to the reconnection
// loop; the goroutine always exits when its connection is replaced.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			current := s.conn == conn
			s.mu.Unlock()

			if closed || !current {
				return
			}

			s.log.Warn("connection lost", "error", err)
			s.reconnect()
			return
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			s.log.Error("dropping undecodable frame", "error", err)
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env Envelope) {
	switch env.Type {
	case evtRoomJoined:
		room, err := decodePayload[models.Room](env)
		if err != nil {
			s.log.Error("bad room-joined payload", "error", err)
			return
		}
		s.mu.Lock()
		s.room = &room
		s.mu.Unlock()
		s.Events.RoomJoined.Publish(room)

	case evtUserJoined:
		user, err := decodePayload[models.User](env)
		if err != nil {
			s.log.Error("bad user-joined payload", "error", err)
			return
		}
		s.updateRoom(func(room *models.Room) {
			for i := range room.Users {
				if room.Users[i].ID == user.ID {
					room.Users[i] = user
					return
				}
			}
			room.Users = append(room.Users, user)
		})
		s.Events.UserJoined.Publish(user)

	case evtUserLeft:
		payload, err := decodePayload[userLeftPayload](env)
		if err != nil {
			s.log.Error("bad user-left payload", "error", err)
			return
		}
		s.updateRoom(func(room *models.Room) {
			users := room.Users[:0]
			for _, u := range room.Users {
				if u.ID != payload.UserID {
					users = append(users, u)
				}
			}
			room.Users = users
		})
		s.Events.UserLeft.Publish(payload.UserID)

	case evtCursorMoved:
		ev, err := decodePayload[CursorEvent](env)
		if err != nil {
			s.log.Error("bad cursor-moved payload", "error", err)
			return
		}
		s.updatePresence(ev.UserID, func(u *models.User) {
			cursor := ev.Cursor
			u.Cursor = &cursor
		})
		s.Events.CursorMoved.Publish(ev)

	case evtTextSelected:
		ev, err := decodePayload[SelectionEvent](env)
		if err != nil {
			s.log.Error("bad text-selected payload", "error", err)
			return
		}
		s.updatePresence(ev.UserID, func(u *models.User) {
			sel := ev.Selection
			u.Selection = &sel
		})
		s.Events.TextSelected.Publish(ev)

	case evtTypingStarted:
		payload, err := decodePayload[typingPayload](env)
		if err != nil {
			s.log.Error("bad typing-started payload", "error", err)
			return
		}
		s.updatePresence(payload.UserID, func(u *models.User) { u.IsTyping = true })
		s.Events.TypingStarted.Publish(payload.UserID)

	case evtTypingStopped:
		payload, err := decodePayload[typingPayload](env)
		if err != nil {
			s.log.Error("bad typing-stopped payload", "error", err)
			return
		}
		s.updatePresence(payload.UserID, func(u *models.User) { u.IsTyping = false })
		s.Events.TypingStopped.Publish(payload.UserID)

	case evtDocChanged:
		op, err := decodePayload[models.Operation](env)
		if err != nil {
			s.log.Error("bad document-changed payload", "error", err)
			return
		}
		s.applyOperation(op)

	case evtMessageReceived:
		msg, err := decodePayload[models.ChatMessage](env)
		if err != nil {
			s.log.Error("bad message-received payload", "error", err)
			return
		}
		s.Events.MessageReceived.Publish(msg)

	case evtRoomLocked:
		lock, err := decodePayload[models.RoomLock](env)
		if err != nil {
			s.log.Error("bad room-locked payload", "error", err)
			return
		}
		s.updateRoom(func(room *models.Room) {
			room.IsLocked = lock.IsLocked
			room.LockOwner = lock.LockOwner
		})
		s.Events.RoomLocked.Publish(lock)

	default:
		s.log.Debug("ignoring unknown event", "type", env.Type)
	}
}

// applyOperation feeds an inbound (or echoed local) operation to the
// resolver and refreshes the room's content snapshot. Stale versions are a
// replay-protection no-op.
func (s *Session) applyOperation(op models.Operation) {
	if err := s.resolver.ApplyOperation(op); err != nil {
		if errors.Is(err, resolver.ErrStaleOperation) {
			return
		}
		s.log.Error("applying operation", "error", err)
		return
	}

	content := s.resolver.GetContent()

	s.mu.Lock()
	if op.Version > s.localVersion {
		s.localVersion = op.Version
	}
	if s.room != nil {
		s.room.Content = content
		s.room.LastModified = time.Now()
	}
	s.mu.Unlock()

	s.Events.DocumentChanged.Publish(op)
}

func (s *Session) updateRoom(fn func(*models.Room)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return
	}
	fn(s.room)
	s.room.LastModified = time.Now()
}

func (s *Session) updatePresence(userID string, fn func(*models.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return
	}
	for i := range s.room.Users {
		if s.room.Users[i].ID == userID {
			fn(&s.room.Users[i])
			s.room.Users[i].LastSeen = time.Now()
			return
		}
	}
}
