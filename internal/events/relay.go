package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/pulse/internal/ledger"
)

// DefaultChannel is the Redis pub/sub channel events are relayed to.
const DefaultChannel = "pulse:events"

// RedisPublisher is the part of *redis.Client the relay uses.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisRelay forwards every event of a subscription to a Redis channel so
// processes outside this one (dashboards, settlement workers) can follow the
// ledger.
type RedisRelay struct {
	client  RedisPublisher
	channel string
	logger  *slog.Logger
}

// NewRedisRelay creates a relay publishing to channel ("" means
// DefaultChannel).
func NewRedisRelay(client RedisPublisher, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, logger: slog.Default()}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

// Forward publishes one event.
func (r *RedisRelay) Forward(ctx context.Context, ev ledger.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: encode event seq=%d: %w", ev.Seq, err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish seq=%d: %w", ev.Seq, err)
	}
	return nil
}

// Run forwards events from sub until ctx is done or sub is closed. Publish
// failures are logged and skipped; the ledger remains the source of truth and
// consumers can catch up from the event log.
func (r *RedisRelay) Run(ctx context.Context, sub *Subscription) error {
	r.logger.Info("redis relay started", "channel", r.channel)
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.Forward(ctx, ev); err != nil {
			r.logger.Warn("relay failed", "seq", ev.Seq, "type", ev.Type, "error", err)
		}
	}
}
