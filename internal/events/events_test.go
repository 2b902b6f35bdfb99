package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestEmitDeliversToSubscriber(t *testing.T) {
	m := newTestManager()

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.Emit(DriftComputed, "drift", map[string]interface{}{"buckets": 3})

	select {
	case event := <-ch:
		assert.Equal(t, DriftComputed, event.Type)
		assert.Equal(t, "drift", event.Module)
		assert.Equal(t, 3, event.Data["buckets"])
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestEmitFansOutToAllSubscribers(t *testing.T) {
	m := newTestManager()

	ch1, unsub1 := m.Subscribe()
	defer unsub1()
	ch2, unsub2 := m.Subscribe()
	defer unsub2()

	assert.Equal(t, 2, m.SubscriberCount())

	m.Emit(TargetsSaved, "allocation", nil)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, TargetsSaved, event.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := newTestManager()

	ch, unsubscribe := m.Subscribe()
	require.Equal(t, 1, m.SubscriberCount())

	unsubscribe()
	assert.Equal(t, 0, m.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Idempotent
	unsubscribe()
}

func TestEmitDropsWhenSubscriberFull(t *testing.T) {
	m := newTestManager()

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	// Overfill the subscriber buffer; emitters must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Emit(SnapshotRecorded, "drift", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}

	assert.Len(t, ch, 64)
}

func TestEmitError(t *testing.T) {
	m := newTestManager()

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.EmitError("alerts", errors.New("backend down"), map[string]interface{}{"op": "fetch"})

	event := <-ch
	assert.Equal(t, ErrorOccurred, event.Type)
	assert.Equal(t, "backend down", event.Data["error"])
}
