package collab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoublingRetryer(t *testing.T) {
	t.Run("doubles the base delay per attempt", func(t *testing.T) {
		r := &DoublingRetryer{BaseDelay: 100 * time.Millisecond, MaxAttempts: 4}

		for attempt, want := range []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
		} {
			delay, retry := r.NextDelay(attempt)
			assert.True(t, retry)
			assert.Equal(t, want, delay)
		}
	})

	t.Run("stops at the attempt cap", func(t *testing.T) {
		r := &DoublingRetryer{BaseDelay: time.Millisecond, MaxAttempts: 2}

		_, retry := r.NextDelay(0)
		assert.True(t, retry)
		_, retry = r.NextDelay(1)
		assert.True(t, retry)
		_, retry = r.NextDelay(2)
		assert.False(t, retry)
	})

	t.Run("caps the delay", func(t *testing.T) {
		r := &DoublingRetryer{BaseDelay: time.Second, MaxDelay: 3 * time.Second, MaxAttempts: 10}

		delay, retry := r.NextDelay(5)
		assert.True(t, retry)
		assert.Equal(t, 3*time.Second, delay)
	})

	t.Run("defaults", func(t *testing.T) {
		r := NewDoublingRetryer()
		delay, retry := r.NextDelay(0)
		assert.True(t, retry)
		assert.Equal(t, time.Second, delay)

		_, retry = r.NextDelay(5)
		assert.False(t, retry)
	})
}

func TestStateTransitions(t *testing.T) {
	valid := []struct{ from, to State }{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnecting, StateDisconnected},
		{StateConnected, StateReconnecting},
		{StateConnected, StateDisconnected},
		{StateReconnecting, StateConnected},
		{StateReconnecting, StateDisconnected},
	}
	for _, tc := range valid {
		assert.NoError(t, tc.from.validateTransitionTo(tc.to), "%v -> %v", tc.from, tc.to)
	}

	invalid := []struct{ from, to State }{
		{StateDisconnected, StateConnected},
		{StateDisconnected, StateReconnecting},
		{StateConnecting, StateReconnecting},
		{StateConnected, StateConnecting},
		{StateReconnecting, StateConnecting},
	}
	for _, tc := range invalid {
		assert.Error(t, tc.from.validateTransitionTo(tc.to), "%v -> %v", tc.from, tc.to)
	}
}
