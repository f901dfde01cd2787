// Package notify tails event streams and fans new entries out to live
// subscribers. Delivery is at-least-once: a subscriber resuming from its
// last durable cursor replays anything it missed, and must apply entries
// idempotently by id.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/eventlog"
)

const subscriberBuffer = 64

// Subscription is one subscriber's view of one stream key. Entries arrive
// on C in id order; the channel is closed on Unsubscribe.
type Subscription struct {
	Key string

	ch chan eventlog.Entry

	// mu guards lastID, which Poll advances while the subscriber may be
	// reading it from another goroutine.
	mu     sync.Mutex
	lastID eventlog.EntryID
}

// C is the receive side of the subscription.
func (s *Subscription) C() <-chan eventlog.Entry {
	return s.ch
}

// LastID reports the id of the last entry handed to the channel. The
// subscriber should persist it and pass it back on reconnect.
func (s *Subscription) LastID() eventlog.EntryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

func (s *Subscription) advance(id eventlog.EntryID) {
	s.mu.Lock()
	s.lastID = id
	s.mu.Unlock()
}

type Dispatcher struct {
	log      eventlog.Log
	interval time.Duration
	batch    int
	logger   zerolog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewDispatcher(log eventlog.Log, interval time.Duration, logger zerolog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		log:      log,
		interval: interval,
		batch:    eventlog.DefaultRangeCount,
		logger:   logger,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber for streamKey, resuming strictly after
// resumeFrom (eventlog.ZeroID replays the stream from the beginning).
func (d *Dispatcher) Subscribe(streamKey string, resumeFrom eventlog.EntryID) *Subscription {
	sub := &Subscription{
		Key:    streamKey,
		ch:     make(chan eventlog.Entry, subscriberBuffer),
		lastID: resumeFrom,
	}

	d.mu.Lock()
	d.subs[sub] = struct{}{}
	d.mu.Unlock()

	return sub
}

func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.subs[sub]; !ok {
		return
	}
	delete(d.subs, sub)
	close(sub.ch)
}

// Run polls until ctx ends. One slow subscriber only stalls its own
// cursor; other keys and subscribers keep flowing.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll performs one fan-out pass over all subscriptions.
func (d *Dispatcher) Poll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for sub := range d.subs {
		entries, err := d.log.Range(ctx, sub.Key, sub.LastID(), d.batch)
		if err != nil {
			d.logger.Warn().Err(err).Str("stream", sub.Key).Msg("range read failed")
			continue
		}

		for _, e := range entries {
			select {
			case sub.ch <- e:
				sub.advance(e.ID)
				continue
			default:
			}
			// Subscriber buffer full; its cursor stays put and the
			// remainder is retried next tick.
			d.logger.Debug().Str("stream", sub.Key).Msg("subscriber backlogged")
			break
		}
	}
}
