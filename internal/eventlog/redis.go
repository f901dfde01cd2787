package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLog backs streams with Redis Streams. XADD assigns server-side
// <ms>-<seq> ids, which makes id allocation safe across any number of
// process instances publishing to the same key.
type RedisLog struct {
	client *redis.Client
	prefix string
}

func NewRedisLog(client *redis.Client) *RedisLog {
	return &RedisLog{
		client: client,
		prefix: "stream:",
	}
}

func (l *RedisLog) streamName(key string) string {
	return l.prefix + key
}

func (l *RedisLog) Publish(ctx context.Context, streamKey, eventType string, payload map[string]any) (EntryID, error) {
	if streamKey == "" {
		return EntryID{}, ErrEmptyStreamKey
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return EntryID{}, fmt.Errorf("marshal stream payload: %w", err)
	}

	raw, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.streamName(streamKey),
		ID:     "*",
		Values: map[string]any{
			"type":    eventType,
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return EntryID{}, fmt.Errorf("xadd %s: %w", streamKey, err)
	}

	id, err := ParseID(raw)
	if err != nil {
		return EntryID{}, fmt.Errorf("parse xadd id %q: %w", raw, err)
	}

	return id, nil
}

func (l *RedisLog) Range(ctx context.Context, streamKey string, fromExclusive EntryID, count int) ([]Entry, error) {
	if streamKey == "" {
		return nil, ErrEmptyStreamKey
	}
	count = clampCount(count)

	msgs, err := l.client.XRangeN(ctx, l.streamName(streamKey), "("+fromExclusive.String(), "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", streamKey, err)
	}

	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e, err := entryFromMessage(m)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", streamKey, err)
		}
		out = append(out, e)
	}

	return out, nil
}

func entryFromMessage(m redis.XMessage) (Entry, error) {
	id, err := ParseID(m.ID)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{ID: id}

	if t, ok := m.Values["type"].(string); ok {
		e.Type = t
	}
	if raw, ok := m.Values["payload"].(string); ok && raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return Entry{}, fmt.Errorf("unmarshal payload of %s: %w", m.ID, err)
		}
	}

	return e, nil
}
