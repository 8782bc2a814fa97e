package feed

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func message(t *testing.T, ev ChangeEvent) *redis.Message {
	t.Helper()
	body, err := encode(ev)
	require.NoError(t, err)
	return &redis.Message{Channel: ChannelName(ev.BookingID), Payload: string(body)}
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "booking:42:changes", ChannelName(42))
}

func TestRelayDecodesAndDropsMalformed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := NewRedisFeed(nil, zap.New(core))

	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	msgs := make(chan *redis.Message, 3)
	msgs <- message(t, ChangeEvent{BookingID: 7, Entity: EntityTask, Kind: ChangeUpdate, At: at})
	msgs <- &redis.Message{Channel: ChannelName(7), Payload: "{not json"}
	msgs <- message(t, ChangeEvent{BookingID: 7, Entity: EntityTimeEntry, Kind: ChangeInsert, At: at})
	close(msgs)

	out := make(chan ChangeEvent, 4)
	f.relay(context.Background(), 7, msgs, out)

	require.Len(t, out, 2)
	first := <-out
	assert.Equal(t, int64(7), first.BookingID)
	assert.Equal(t, EntityTask, first.Entity)
	assert.Equal(t, ChangeUpdate, first.Kind)
	assert.True(t, at.Equal(first.At))
	assert.Equal(t, EntityTimeEntry, (<-out).Entity)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "dropping malformed change event", logs.All()[0].Message)
}

func TestRelayCoalescesForSlowSubscriber(t *testing.T) {
	f := NewRedisFeed(nil, nil)

	msgs := make(chan *redis.Message, 3)
	for i := 0; i < 3; i++ {
		msgs <- message(t, ChangeEvent{BookingID: 3, Entity: EntityApproval, Kind: ChangeUpdate})
	}
	close(msgs)

	out := make(chan ChangeEvent, 1)
	f.relay(context.Background(), 3, msgs, out)

	assert.Len(t, out, 1)
}

func TestRelayStopsOnContextCancel(t *testing.T) {
	f := NewRedisFeed(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.relay(ctx, 1, make(chan *redis.Message), make(chan ChangeEvent, 1))
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestPublishReportsUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	f := NewRedisFeed(rdb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, f.Publish(ctx, ChangeEvent{BookingID: 1, Entity: EntityBooking, Kind: ChangeUpdate}))

	_, err := f.Subscribe(ctx, 1)
	assert.Error(t, err)
}
