package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)

	id, err := log.Publish(ctx, "doctor:7", "APPOINTMENT_BOOKED", map[string]any{"slot": "s1"})
	require.NoError(t, err)

	entries, err := log.Range(ctx, "doctor:7", ZeroID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "APPOINTMENT_BOOKED", entries[0].Type)
	assert.Equal(t, "s1", entries[0].Payload["slot"])
}

func TestFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	log1, err := NewFileLog(dir, nil)
	require.NoError(t, err)

	var last EntryID
	for i := 0; i < 5; i++ {
		last, err = log1.Publish(ctx, "k", "tick", map[string]any{"i": i})
		require.NoError(t, err)
	}

	// A fresh instance over the same directory must continue the id
	// sequence and see all previous entries.
	log2, err := NewFileLog(dir, nil)
	require.NoError(t, err)

	next, err := log2.Publish(ctx, "k", "tick", map[string]any{"i": 5})
	require.NoError(t, err)
	assert.True(t, next.After(last))

	entries, err := log2.Range(ctx, "k", ZeroID, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].ID.After(entries[i-1].ID))
	}
}

// dirLeaser serializes appends the way the redis leaser does in
// production, for tests exercising a directory shared by two instances.
type dirLeaser struct {
	mu sync.Mutex
}

func (l *dirLeaser) WithLease(ctx context.Context, _ string, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

func TestFileSharedDirectoryInterleaved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	lease := &dirLeaser{}

	log1, err := NewFileLog(dir, lease)
	require.NoError(t, err)
	log2, err := NewFileLog(dir, lease)
	require.NoError(t, err)

	// Freeze the clock so uniqueness depends entirely on sequence
	// handling, not on milliseconds advancing between appends.
	at := time.UnixMilli(1700000000000)
	log1.now = func() time.Time { return at }
	log2.now = func() time.Time { return at }

	var ids []EntryID
	for _, l := range []*FileLog{log1, log2, log1, log2, log1} {
		id, err := l.Publish(ctx, "k", "tick", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Interleaved appends from both instances must never repeat or
	// regress an id.
	seen := make(map[EntryID]bool)
	for i, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		if i > 0 {
			assert.True(t, id.After(ids[i-1]), "id %s does not follow %s", id, ids[i-1])
		}
	}

	entries, err := log2.Range(ctx, "k", ZeroID, 100)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].ID.After(entries[i-1].ID))
	}
}

func TestFileRangeCursor(t *testing.T) {
	ctx := context.Background()
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)

	var ids []EntryID
	for i := 0; i < 10; i++ {
		id, err := log.Publish(ctx, "k", "tick", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := log.Range(ctx, "k", ids[6], 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[7], entries[0].ID)
	assert.Equal(t, ids[9], entries[2].ID)

	// Count cap applies to file scans too.
	entries, err = log.Range(ctx, "k", ZeroID, 4)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestFileRangeMissingStream(t *testing.T) {
	log, err := NewFileLog(t.TempDir(), nil)
	require.NoError(t, err)

	entries, err := log.Range(context.Background(), "nobody", ZeroID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileKeySanitization(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := NewFileLog(dir, nil)
	require.NoError(t, err)

	_, err = log.Publish(ctx, "patient:abc/../etc", "x", nil)
	require.NoError(t, err)

	// The stream file must land inside the directory regardless of what
	// the key contains.
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	info, err := os.Stat(matches[0])
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestFileCorruptLineSurfaces(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := NewFileLog(dir, nil)
	require.NoError(t, err)

	_, err = log.Publish(ctx, "k", "x", nil)
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, "k.log"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = log.Range(ctx, "k", ZeroID, 10)
	assert.Error(t, err)
}
