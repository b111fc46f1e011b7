package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus[int]()
	defer bus.Close()

	a, stopA := bus.Subscribe(1)
	defer stopA()
	b, stopB := bus.Subscribe(1)
	defer stopB()

	bus.Publish(42)
	assert.Equal(t, 42, <-a)
	assert.Equal(t, 42, <-b)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus[int]()
	defer bus.Close()

	ch, stop := bus.Subscribe(1)
	defer stop()

	// Second publish finds the buffer full and is dropped for this
	// subscriber rather than blocking.
	bus.Publish(1)
	bus.Publish(2)

	assert.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus[string]()
	defer bus.Close()

	ch, stop := bus.Subscribe(4)
	stop()
	stop() // idempotent

	_, open := <-ch
	assert.False(t, open)

	bus.Publish("late")
}

func TestCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[string]()

	ch, stop := bus.Subscribe(4)
	defer stop()

	bus.Close()
	_, open := <-ch
	require.False(t, open)

	// After close, everything is a no-op.
	bus.Publish("late")
	late, cancel := bus.Subscribe(1)
	defer cancel()
	_, open = <-late
	assert.False(t, open)
}
