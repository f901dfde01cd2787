// Package eventlog provides per-subject ordered append logs with
// interchangeable backends. Every mutation in the booking core publishes
// here, and notification fan-out and debug tooling read back via cursor
// based range queries.
package eventlog

import (
	"context"
	"errors"
)

const (
	MinRangeCount     = 1
	MaxRangeCount     = 500
	DefaultRangeCount = 100
)

var (
	ErrEmptyStreamKey = errors.New("stream key must not be empty")
)

// Entry is one immutable record in a stream.
type Entry struct {
	ID      EntryID        `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Log is the backend contract. Entries within one stream key are totally
// ordered by id; Publish assigns the id, Range reads strictly after a
// cursor in ascending order.
type Log interface {
	Publish(ctx context.Context, streamKey, eventType string, payload map[string]any) (EntryID, error)
	Range(ctx context.Context, streamKey string, fromExclusive EntryID, count int) ([]Entry, error)
}

// Leaser guards id assignment on a stream shared between process
// instances. Single-process backends may pass nil and get a no-op.
type Leaser interface {
	WithLease(ctx context.Context, streamKey string, fn func(ctx context.Context) error) error
}

type nopLeaser struct{}

func (nopLeaser) WithLease(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func clampCount(n int) int {
	if n <= 0 {
		return DefaultRangeCount
	}
	if n > MaxRangeCount {
		return MaxRangeCount
	}
	return n
}

func copyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return cp
}
