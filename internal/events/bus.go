// Package events publishes trust-level changes onto the event bus.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// StreamTrustEvents is the Redis stream all trust events go to.
	StreamTrustEvents = "trust_events"

	streamMaxLen = 10_000
)

// Event is one decoded stream entry.
type Event struct {
	ID        string
	Topic     string
	Payload   map[string]any
	EmittedAt time.Time
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisBus appends events to a capped Redis stream.
type RedisBus struct {
	client *redis.Client
	stream string
	now    func() time.Time
}

// NewRedisBus creates a RedisBus on StreamTrustEvents.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, stream: StreamTrustEvents, now: time.Now}
}

// Emit appends one event. The payload is encoded as a protobuf Struct in JSON form.
func (b *RedisBus) Emit(ctx context.Context, topic string, payload map[string]any) error {
	encoded, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("emit %s: %w", topic, err)
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"topic":      topic,
			"payload":    encoded,
			"emitted_at": b.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("emit %s: %w", topic, err)
	}
	return nil
}

// Recent returns up to count most recent events, newest first.
func (b *RedisBus) Recent(ctx context.Context, count int64) ([]Event, error) {
	msgs, err := b.client.XRevRangeN(ctx, b.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.stream, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		e, err := decodeMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeMessage(m redis.XMessage) (Event, error) {
	e := Event{ID: m.ID, Topic: getString(m.Values, "topic")}
	payload, err := Decode(getString(m.Values, "payload"))
	if err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", m.ID, err)
	}
	e.Payload = payload
	if ts := getString(m.Values, "emitted_at"); ts != "" {
		e.EmittedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return e, nil
}

// Encode renders payload as protojson of a structpb.Struct.
func Encode(payload map[string]any) (string, error) {
	s, err := structpb.NewStruct(payload)
	if err != nil {
		return "", err
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode is the inverse of Encode.
func Decode(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var s structpb.Struct
	if err := protojson.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}

func getString(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// LogBus is the fallback bus when Redis is not configured.
type LogBus struct {
	logger *zap.Logger
}

// NewLogBus creates a LogBus writing to logger.
func NewLogBus(logger *zap.Logger) *LogBus {
	return &LogBus{logger: logger}
}

func (b *LogBus) Emit(_ context.Context, topic string, payload map[string]any) error {
	encoded, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("emit %s: %w", topic, err)
	}
	b.logger.Info("trust_event", zap.String("topic", topic), zap.String("payload", encoded))
	return nil
}
