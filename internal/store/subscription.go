package store

import (
	"context"
	"sync"

	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/logger"
)

// SnapshotFunc receives the full ordered message list after every change.
type SnapshotFunc func(messages []chat.Message)

// Subscription is a live feed of full snapshots. It must be closed by its
// owner; cancelling the context passed to Subscribe also closes it.
type Subscription struct {
	d    *DB
	fn   SnapshotFunc
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Subscribe delivers the current snapshot immediately and again after each
// mutation. Deliveries for one subscription never overlap and are in order.
// Bursts of mutations may be coalesced into one snapshot of the latest state.
func (d *DB) Subscribe(ctx context.Context, fn SnapshotFunc) (*Subscription, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, storeErr("subscribe", "", err)
	}
	s := &Subscription{
		d:    d,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.wake <- struct{}{}

	d.subsMu.Lock()
	// Close may have run since checkOpen
	if d.closed {
		d.subsMu.Unlock()
		return nil, storeErr("subscribe", "", errClosed)
	}
	d.subs[s] = struct{}{}
	d.subsMu.Unlock()

	go s.run(ctx)
	return s, nil
}

func (s *Subscription) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Close()
			return
		case <-s.wake:
		}
		// a Close racing with the wake wins
		select {
		case <-s.done:
			return
		default:
		}
		msgs, err := s.d.snapshot()
		if err != nil {
			logger.Error("snapshot_failed", "error", err)
			continue
		}
		s.fn(msgs)
	}
}

// Close stops deliveries. It is safe to call more than once and from
// inside the snapshot callback.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.d.subsMu.Lock()
		delete(s.d.subs, s)
		s.d.subsMu.Unlock()
	})
}

// Done is closed once the subscription has been closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (d *DB) snapshot() ([]chat.Message, error) {
	// hold mu so Close cannot release pebble mid-scan
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isClosed() {
		return nil, errClosed
	}
	return d.list()
}

func (d *DB) notify() {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for s := range d.subs {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}
