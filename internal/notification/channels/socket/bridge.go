package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	defaultReconnectInitial = 500 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

var errSubscriptionClosed = errors.New("subscription closed")

// wireFrame is the pub/sub message. Sequence numbers are per hub and are not
// carried.
type wireFrame struct {
	EventType   string          `json:"event_type"`
	AffiliateID string          `json:"affiliate_id,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// RedisBridge publishes frames on a pub/sub channel and feeds every frame it
// receives, including its own, into the local hub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger

	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

type BridgeOption func(*RedisBridge)

// WithReconnectBackoff bounds the delay between subscription attempts.
func WithReconnectBackoff(initial, maxDelay time.Duration) BridgeOption {
	return func(b *RedisBridge) {
		if initial > 0 {
			b.reconnectInitial = initial
		}
		if maxDelay >= initial {
			b.reconnectMax = maxDelay
		}
	}
}

func NewRedisBridge(client *redis.Client, channel string, hub *Hub, logger *slog.Logger, opts ...BridgeOption) *RedisBridge {
	b := &RedisBridge{
		client:           client,
		channel:          channel,
		hub:              hub,
		logger:           logger,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBridge) Publish(ctx context.Context, f Frame) error {
	msg, err := json.Marshal(wireFrame{EventType: f.EventType, AffiliateID: f.AffiliateID, Data: f.Data})
	if err != nil {
		return fmt.Errorf("encode socket frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run relays pub/sub messages to the hub until ctx is cancelled. A failed or
// dropped subscription is retried with exponential backoff, so Redis outages
// degrade socket push without stopping the process.
func (b *RedisBridge) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.reconnectInitial
	policy.MaxInterval = b.reconnectMax
	policy.MaxElapsedTime = 0

	for {
		err := b.relay(ctx, policy)
		if ctx.Err() != nil {
			return nil
		}
		wait := policy.NextBackOff()
		b.logger.WarnContext(ctx, "socket bridge subscription failed",
			"channel", b.channel,
			"error", err,
			"retry_in", wait,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// relay runs one subscription. The backoff resets once it is established.
func (b *RedisBridge) relay(ctx context.Context, policy backoff.BackOff) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	policy.Reset()
	b.logger.InfoContext(ctx, "socket bridge subscribed", "channel", b.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errSubscriptionClosed
			}
			var wf wireFrame
			if err := json.Unmarshal([]byte(msg.Payload), &wf); err != nil {
				b.logger.WarnContext(ctx, "skipping malformed socket frame", "error", err)
				continue
			}
			b.hub.Broadcast(Frame{EventType: wf.EventType, AffiliateID: wf.AffiliateID, Data: wf.Data})
		}
	}
}
