package collab

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// reconnect runs the backoff loop after an unexpected disconnect. Each
// attempt waits the retryer's delay, redials, and rejoins the previous room.
// Exhausting the attempt budget emits a terminal reconnection-failed event
// and leaves the session Disconnected; no further automatic attempts occur.
func (s *Session) reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err := s.transitionToLocked(StateReconnecting); err != nil {
		s.mu.Unlock()
		s.log.Error("BUG: failed to transition to reconnecting state", "error", err)
		return
	}
	s.mu.Unlock()

	var lastErr error
	for attempt := 0; ; attempt++ {
		delay, retry := s.cfg.Retryer.NextDelay(attempt)
		if !retry {
			break
		}

		select {
		case <-s.closeCh:
			return
		case <-time.After(delay):
		}

		s.log.Info("reconnection attempt", "attempt", attempt+1, "delay", delay)

		if err := s.redial(); err != nil {
			lastErr = err
			s.log.Warn("reconnection attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		if err := s.transitionTo(StateConnected); err != nil {
			s.log.Error("BUG: failed to transition to connected state", "error", err)
		}
		s.rejoinRoom()
		return
	}

	if err := s.transitionTo(StateDisconnected); err != nil {
		s.log.Error("BUG: failed to transition to disconnected state", "error", err)
	}
	s.log.Error("reconnection attempts exhausted", "error", lastErr)
	s.Events.ReconnectionFailed.Publish(
		fmt.Errorf("reconnection failed after exhausting retry budget: %w", lastErr))
}

// redial dials a fresh connection and swaps it in, discarding the dead one.
// A session closed while the dial was in flight discards the fresh
// connection instead.
func (s *Session) redial() error {
	conn, resp, err := s.cfg.Dialer.DialContext(context.Background(), s.cfg.URL, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errors.New("session closed during reconnect")
	}
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	go s.readLoop(conn)
	return nil
}

// rejoinRoom re-requests membership of the room that was active before the
// disconnect, if any.
func (s *Session) rejoinRoom() {
	s.mu.Lock()
	roomID := s.roomID
	documentID := s.documentID
	user := s.user
	s.mu.Unlock()

	if roomID == "" {
		return
	}
	if err := s.send(evtJoinRoom, joinRoomPayload{
		RoomID:     roomID,
		DocumentID: documentID,
		User:       user,
	}); err != nil {
		s.log.Warn("rejoining room after reconnect", "room_id", roomID, "error", err)
	}
}
