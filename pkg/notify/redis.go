package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is the wire format on the redis channel.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewEnvelope(event Event) (Envelope, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      string(event.Type),
		Timestamp: event.At.Unix(),
		Data:      data,
	}, nil
}

// RedisPublisher mirrors events onto a redis pub/sub channel for UIs that run
// in another process.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

func (p *RedisPublisher) Notify(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	envelope, err := NewEnvelope(event)
	if err != nil {
		p.logger.Warn("failed to encode event", zap.Error(err))
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		p.logger.Warn("failed to encode envelope", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish event to redis",
			zap.String("channel", p.channel),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Subscribe streams envelopes from the channel until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	ch := make(chan *Envelope, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				continue
			}
			select {
			case ch <- &envelope:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch, nil
}
