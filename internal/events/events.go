// Package events implements the multi-producer/multi-consumer event bus
// (architecture.md §4.6) that carries transfer and sync-run progress to the
// API gateway's websocket subscribers. The bounded-buffer-with-coalescing
// design mirrors the teacher's sync.Buffer (non-blocking notify channel,
// mutex-protected pending state) adapted from a single debounced flush to
// per-subscriber fan-out with guaranteed terminal delivery.
package events

import (
	"context"
	"log/slog"
	"sync"
)

// Kind identifies the event's subject and lifecycle stage.
type Kind string

const (
	KindTransferProgress Kind = "transfer_progress"
	KindTransferDone     Kind = "transfer_done"
	KindTransferFailed   Kind = "transfer_failed"
	KindSyncRunStarted   Kind = "sync_run_started"
	KindSyncRunProgress  Kind = "sync_run_progress"
	KindSyncRunFinished  Kind = "sync_run_finished"
	KindQuotaWarning     Kind = "quota_warning"
)

// terminal reports whether a Kind marks the end of its subject's lifecycle.
// Terminal events are never coalesced away — a slow subscriber must still
// observe every completion, even if intermediate progress was dropped.
func (k Kind) terminal() bool {
	switch k {
	case KindTransferDone, KindTransferFailed, KindSyncRunFinished:
		return true
	default:
		return false
	}
}

// Event is one message published to the bus. Key groups related events
// (e.g. all progress ticks for one transfer ID).
type Event struct {
	Kind    Kind
	Key     string
	Payload map[string]any
}

// subscriberBufSize bounds each subscriber's backlog before coalescing
// kicks in. Matches the teacher's watchChanBuf order of magnitude for a
// bounded, non-blocking dispatch channel.
const subscriberBufSize = 256

// Bus fans published events out to any number of subscribers. Publish never
// blocks on a slow subscriber: a non-terminal event that finds a
// subscriber's buffer full is dropped for that subscriber, while a terminal
// event evicts the single oldest queued event, whatever its key or kind,
// and is then queued.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	logger *slog.Logger
}

type subscriber struct {
	ch     chan Event
	cancel context.CancelFunc
}

// New creates an empty event Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{subs: make(map[int]*subscriber), logger: logger}
}

// Subscribe registers a new subscriber and returns its event channel and an
// unsubscribe function. The channel is closed once Unsubscribe is called or
// ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ctx, cancel := context.WithCancel(ctx)

	sub := &subscriber{ch: make(chan Event, subscriberBufSize), cancel: cancel}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()

		cancel()
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}

// Publish fans ev out to every current subscriber. Non-blocking: for a
// subscriber whose buffer is full, a non-terminal ev is dropped and a
// terminal ev evicts the oldest queued event, per the policy above.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, ev)
	}
}

// deliver attempts a non-blocking send, coalescing on backpressure.
func (b *Bus) deliver(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	if ev.Kind.terminal() {
		// Make room for a terminal event by dropping the single oldest
		// queued message, then retry once. Terminal delivery must never
		// be silently lost.
		select {
		case <-sub.ch:
		default:
		}

		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("dropping terminal event: subscriber buffer still full after eviction",
				slog.String("kind", string(ev.Kind)), slog.String("key", ev.Key))
		}

		return
	}

	b.logger.Debug("coalescing: subscriber buffer full, dropping progress event",
		slog.String("kind", string(ev.Kind)), slog.String("key", ev.Key))
}

// SubscriberCount returns the number of currently active subscribers, used
// by the gateway for diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
