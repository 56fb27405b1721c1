package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

func TestHubPublishFanOut(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)

	session := chat.Session{UserID: "u1", ChatID: "c1", DisplayName: "Bob", SecureKey: "secret"}
	hub.Publish(NewEvent(TypeStarted, session))

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, TypeStarted, ev.Type)
			assert.Equal(t, "u1", ev.UserID)
			assert.Equal(t, "Bob", ev.DisplayName)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHubUnsubscribeOnCancel(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch := hub.Subscribe(ctx)
	require.Equal(t, 1, hub.Subscribers())

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscriber not removed")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHubPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = hub.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 2 {
			hub.Publish(Event{Type: TypeMessage})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
