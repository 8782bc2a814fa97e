package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFeed carries change events over redis pub/sub, one channel per booking.
type RedisFeed struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisFeed(rdb *redis.Client, logger *zap.Logger) *RedisFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{rdb: rdb, logger: logger}
}

func ChannelName(bookingID int64) string {
	return fmt.Sprintf("booking:%d:changes", bookingID)
}

func (f *RedisFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := encode(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, ChannelName(ev.BookingID), body).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, bookingID int64) (<-chan ChangeEvent, error) {
	ps := f.rdb.Subscribe(ctx, ChannelName(bookingID))
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChannelName(bookingID), err)
	}

	out := make(chan ChangeEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		f.relay(ctx, bookingID, ps.Channel(), out)
	}()
	return out, nil
}

// relay decodes pub/sub messages onto out until ctx ends or msgs closes.
// Malformed payloads, and events that find out full, are dropped.
func (f *RedisFeed) relay(ctx context.Context, bookingID int64, msgs <-chan *redis.Message, out chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := decode([]byte(msg.Payload))
			if err != nil {
				f.logger.Warn("dropping malformed change event",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			select {
			case out <- ev:
			default:
				f.logger.Debug("subscriber slow, change event coalesced",
					zap.Int64("booking_id", bookingID),
				)
			}
		}
	}
}
