package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileLog stores each stream as one append-only JSON-lines file under dir.
// The last assigned id is recovered by scanning the file, so the log
// survives process restarts. When several processes share the same
// directory, appends for a key are serialized through the Leaser and the
// last id is re-read under the lease on every append.
type FileLog struct {
	dir    string
	leaser Leaser
	shared bool
	now    func() time.Time

	mu      sync.Mutex
	streams map[string]*fileStream
}

type fileStream struct {
	mu     sync.Mutex
	last   EntryID
	loaded bool
}

// NewFileLog creates the stream directory if needed. leaser may be nil
// when the directory is owned by a single process; a non-nil leaser marks
// the directory as shared between instances.
func NewFileLog(dir string, leaser Leaser) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stream dir: %w", err)
	}
	shared := leaser != nil
	if leaser == nil {
		leaser = nopLeaser{}
	}
	return &FileLog{
		dir:     dir,
		leaser:  leaser,
		shared:  shared,
		now:     time.Now,
		streams: make(map[string]*fileStream),
	}, nil
}

func (l *FileLog) stream(key string) *fileStream {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[key]
	if !ok {
		s = &fileStream{}
		l.streams[key] = s
	}
	return s
}

func (l *FileLog) path(key string) string {
	return filepath.Join(l.dir, sanitizeKey(key)+".log")
}

// sanitizeKey maps a stream key to a safe file name. Keys are of the form
// "<subject>:<uuid>", so replacing the separator keeps names unique.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '.', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

func (l *FileLog) Publish(ctx context.Context, streamKey, eventType string, payload map[string]any) (EntryID, error) {
	if streamKey == "" {
		return EntryID{}, ErrEmptyStreamKey
	}

	s := l.stream(streamKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	var assigned EntryID
	err := l.leaser.WithLease(ctx, streamKey, func(ctx context.Context) error {
		// A shared directory must be re-read under the lease on every
		// append: another instance may have advanced the file since our
		// last write, and trusting the in-process cache would reallocate
		// an id that is already on disk. The cache is sound only when
		// this process owns the directory.
		if l.shared || !s.loaded {
			last, err := l.recoverLast(streamKey)
			if err != nil {
				return err
			}
			s.last = last
			s.loaded = true
		}

		id := nextAfter(s.last, l.now())
		entry := Entry{ID: id, Type: eventType, Payload: payload}

		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal stream entry: %w", err)
		}

		f, err := os.OpenFile(l.path(streamKey), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open stream file: %w", err)
		}
		defer f.Close()

		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append stream entry: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync stream file: %w", err)
		}

		s.last = id
		assigned = id
		return nil
	})
	if err != nil {
		return EntryID{}, err
	}

	return assigned, nil
}

// recoverLast scans to the final record of the stream file. Streams are
// small enough per key that a forward scan on first touch is acceptable.
func (l *FileLog) recoverLast(streamKey string) (EntryID, error) {
	f, err := os.Open(l.path(streamKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ZeroID, nil
		}
		return ZeroID, fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()

	last := ZeroID
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return ZeroID, fmt.Errorf("corrupt stream file for %q: %w", streamKey, err)
		}
		last = e.ID
	}
	if err := scanner.Err(); err != nil {
		return ZeroID, fmt.Errorf("scan stream file: %w", err)
	}

	return last, nil
}

func (l *FileLog) Range(_ context.Context, streamKey string, fromExclusive EntryID, count int) ([]Entry, error) {
	if streamKey == "" {
		return nil, ErrEmptyStreamKey
	}
	count = clampCount(count)

	f, err := os.Open(l.path(streamKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt stream file for %q: %w", streamKey, err)
		}
		if !e.ID.After(fromExclusive) {
			continue
		}
		out = append(out, e)
		if len(out) == count {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan stream file: %w", err)
	}

	return out, nil
}
