package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRetryer wraps a DoublingRetryer and records how often it is
// consulted.
type countingRetryer struct {
	inner *DoublingRetryer

	mu    sync.Mutex
	calls int
}

func (r *countingRetryer) NextDelay(attempt int) (time.Duration, bool) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.inner.NextDelay(attempt)
}

func (r *countingRetryer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestReconnectionBound(t *testing.T) {
	relay := newFakeRelay(t)
	retryer := &countingRetryer{inner: &DoublingRetryer{
		BaseDelay:   time.Millisecond,
		MaxAttempts: 3,
	}}
	s := connectedSession(t, relay, Config{Retryer: retryer})

	failedCh, stop := s.Events.ReconnectionFailed.Subscribe(1)
	defer stop()

	// Take the relay down entirely so every redial fails.
	relay.dropClients()
	relay.srv.Close()

	select {
	case err := <-failedCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reconnection-failed event")
	}

	assert.Equal(t, StateDisconnected, s.State())

	// Exactly MaxAttempts delays were granted plus the final refusal; no
	// further automatic attempt ever runs.
	assert.Equal(t, 4, retryer.callCount())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, retryer.callCount())
}

func TestReconnectRejoinsRoom(t *testing.T) {
	relay := newFakeRelay(t)
	s := connectedSession(t, relay, Config{Retryer: &DoublingRetryer{
		BaseDelay:   time.Millisecond,
		MaxAttempts: 5,
	}})

	require.NoError(t, s.JoinRoom("salle-1", "doc-1"))
	relay.expect(evtJoinRoom)

	// Drop the established connection server-side; the relay itself stays
	// up, so the first reconnection attempt lands.
	relay.dropClients()

	env := relay.expect(evtJoinRoom)
	payload, err := decodePayload[joinRoomPayload](env)
	require.NoError(t, err)
	assert.Equal(t, "salle-1", payload.RoomID)
	assert.Equal(t, "doc-1", payload.DocumentID)

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, relay.connCount(), 1)
}

func TestCloseStopsReconnection(t *testing.T) {
	relay := newFakeRelay(t)
	retryer := &countingRetryer{inner: &DoublingRetryer{
		BaseDelay:   200 * time.Millisecond,
		MaxAttempts: 10,
	}}
	s := connectedSession(t, relay, Config{Retryer: retryer})

	relay.dropClients()

	// Close while the reconnection loop is waiting out its first delay.
	require.Eventually(t, func() bool {
		return s.State() == StateReconnecting
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))

	calls := retryer.callCount()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, calls, retryer.callCount())
	assert.Equal(t, StateDisconnected, s.State())
}
