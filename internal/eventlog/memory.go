package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog keeps streams in process memory. Suitable for short-lived
// fan-out and tests; nothing survives a restart.
type MemoryLog struct {
	mu      sync.Mutex
	streams map[string]*memStream
	now     func() time.Time
}

type memStream struct {
	mu      sync.Mutex
	last    EntryID
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		streams: make(map[string]*memStream),
		now:     time.Now,
	}
}

func (l *MemoryLog) stream(key string) *memStream {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[key]
	if !ok {
		s = &memStream{}
		l.streams[key] = s
	}
	return s
}

func (l *MemoryLog) Publish(_ context.Context, streamKey, eventType string, payload map[string]any) (EntryID, error) {
	if streamKey == "" {
		return EntryID{}, ErrEmptyStreamKey
	}

	s := l.stream(streamKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	id := nextAfter(s.last, l.now())
	s.last = id
	s.entries = append(s.entries, Entry{
		ID:      id,
		Type:    eventType,
		Payload: copyPayload(payload),
	})

	return id, nil
}

func (l *MemoryLog) Range(_ context.Context, streamKey string, fromExclusive EntryID, count int) ([]Entry, error) {
	if streamKey == "" {
		return nil, ErrEmptyStreamKey
	}
	count = clampCount(count)

	s := l.stream(streamKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	start := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].ID.After(fromExclusive)
	})

	end := start + count
	if end > len(s.entries) {
		end = len(s.entries)
	}

	out := make([]Entry, end-start)
	copy(out, s.entries[start:end])
	return out, nil
}
