package hub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lullaby/internal/liveness"
)

func receive(t *testing.T, ch <-chan liveness.Status) liveness.Status {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status")
		return ""
	}
}

func assertNothing(t *testing.T, ch <-chan liveness.Status) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected delivery %q", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_CurrentUnknownUntilSet(t *testing.T) {
	h := New(zerolog.Nop())

	_, ok := h.Current()
	assert.False(t, ok)

	h.SetStatus(liveness.StatusAwake)
	s, ok := h.Current()
	assert.True(t, ok)
	assert.Equal(t, liveness.StatusAwake, s)
}

func TestHub_NoInitialDeliveryWhenUnknown(t *testing.T) {
	h := New(zerolog.Nop())
	sub := h.Subscribe(t.Context())
	defer sub.Close()

	assertNothing(t, sub.C)

	h.SetStatus(liveness.StatusSleeping)
	assert.Equal(t, liveness.StatusSleeping, receive(t, sub.C))
}

func TestHub_SetStatusIsIdempotent(t *testing.T) {
	h := New(zerolog.Nop())
	sub := h.Subscribe(t.Context())
	defer sub.Close()

	h.SetStatus(liveness.StatusAwake)
	h.SetStatus(liveness.StatusAwake)

	assert.Equal(t, liveness.StatusAwake, receive(t, sub.C))
	assertNothing(t, sub.C)

	s, _ := h.Current()
	assert.Equal(t, liveness.StatusAwake, s)
}

func TestHub_AllSubscribersReceiveChange(t *testing.T) {
	h := New(zerolog.Nop())
	ctx := t.Context()

	subs := []*Subscription{h.Subscribe(ctx), h.Subscribe(ctx), h.Subscribe(ctx)}
	h.SetStatus(liveness.StatusAwake)

	for i, sub := range subs {
		assert.Equal(t, liveness.StatusAwake, receive(t, sub.C), "subscriber %d", i)
	}
}

func TestHub_ReplaysCurrentToNewSubscriber(t *testing.T) {
	h := New(zerolog.Nop())
	h.SetStatus(liveness.StatusAwake)

	sub := h.Subscribe(t.Context())
	defer sub.Close()

	assert.Equal(t, liveness.StatusAwake, receive(t, sub.C))
	assertNothing(t, sub.C)
}

func TestHub_LateSubscriberSeesOnlyLatest(t *testing.T) {
	h := New(zerolog.Nop())
	h.SetStatus(liveness.StatusAwake)
	h.SetStatus(liveness.StatusSleeping)
	h.SetStatus(liveness.StatusAwake)

	sub := h.Subscribe(t.Context())
	defer sub.Close()

	assert.Equal(t, liveness.StatusAwake, receive(t, sub.C))
	assertNothing(t, sub.C)
}

func TestHub_CancelReleasesRegistration(t *testing.T) {
	h := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	sub := h.Subscribe(ctx)
	require.Equal(t, 1, h.Len())

	cancel()
	assert.Equal(t, 0, h.Len())

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after cancel")

	// Changes after cancellation go nowhere and do not panic.
	h.SetStatus(liveness.StatusAwake)
}

func TestHub_NoDeliveryAfterCancel(t *testing.T) {
	h := New(zerolog.Nop())
	h.SetStatus(liveness.StatusAwake)

	ctx, cancel := context.WithCancel(context.Background())
	sub := h.Subscribe(ctx)
	require.Equal(t, liveness.StatusAwake, receive(t, sub.C))

	cancel()
	h.SetStatus(liveness.StatusSleeping)

	for s := range sub.C {
		t.Fatalf("delivery after cancel: %q", s)
	}
	assert.Equal(t, 0, h.Len())
}

func TestHub_SubscribeWithCancelledContext(t *testing.T) {
	h := New(zerolog.Nop())
	h.SetStatus(liveness.StatusAwake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub := h.Subscribe(ctx)
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	h := New(zerolog.Nop())
	sub := h.Subscribe(t.Context())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Len())
}

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	h := New(zerolog.Nop())
	sub := h.Subscribe(t.Context())
	defer sub.Close()

	for i := 0; i < subscriberBufferSize*2; i++ {
		if i%2 == 0 {
			h.SetStatus(liveness.StatusAwake)
		} else {
			h.SetStatus(liveness.StatusSleeping)
		}
	}
	h.SetStatus(liveness.StatusAwake)

	var last liveness.Status
	for len(sub.C) > 0 {
		last = <-sub.C
	}
	assert.Equal(t, liveness.StatusAwake, last)
}

func TestHub_ClosedHubHandsOutClosedStreams(t *testing.T) {
	h := New(zerolog.Nop())
	h.Close()

	sub := h.Subscribe(t.Context())
	_, ok := <-sub.C
	assert.False(t, ok)
}
