package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFeedDeliversOnlyToBookingSubscribers(t *testing.T) {
	f := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := f.Subscribe(ctx, 1)
	require.NoError(t, err)
	b, err := f.Subscribe(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, ChangeEvent{BookingID: 1, Entity: EntityTask, Kind: ChangeUpdate}))

	select {
	case ev := <-a:
		assert.Equal(t, int64(1), ev.BookingID)
		assert.Equal(t, EntityTask, ev.Entity)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event for booking 1")
	}

	select {
	case ev := <-b:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestMemoryFeedClosesOnContextCancel(t *testing.T) {
	f := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := f.Subscribe(ctx, 5)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryFeedClose(t *testing.T) {
	f := NewMemoryFeed()
	ch, err := f.Subscribe(context.Background(), 5)
	require.NoError(t, err)

	f.Close()
	_, ok := <-ch
	assert.False(t, ok)

	_, err = f.Subscribe(context.Background(), 5)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.Publish(context.Background(), ChangeEvent{BookingID: 5}), ErrClosed)
}

func TestEventCodec(t *testing.T) {
	ev := ChangeEvent{BookingID: 3, Entity: EntityTimeEntry, Kind: ChangeInsert, At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	raw, err := encode(ev)
	require.NoError(t, err)
	got, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.Equal(t, "booking:3:changes", ChannelName(3))
}
