package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/oklog/ulid/v2"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/logger"
)

var ErrNotFound = chat.ErrNotFound

var errClosed = errors.New("store is closed")

// DB is the pebble-backed message store. Messages are keyed by ulid so a
// prefix scan returns them in creation order.
type DB struct {
	db  *pebble.DB
	now func() time.Time

	// mu serializes writes and guards entropy
	mu      sync.Mutex
	entropy io.Reader

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

type options struct {
	fs  vfs.FS
	now func() time.Time
}

type Option func(*options)

// WithFS opens the database on fs, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *options) { o.fs = fs }
}

// WithClock overrides the server timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	popts := &pebble.Options{}
	if o.fs != nil {
		popts.FS = o.fs
	}
	pdb, err := pebble.Open(path, popts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &DB{
		db:      pdb,
		now:     o.now,
		entropy: ulid.Monotonic(rand.Reader, 0),
		subs:    make(map[*Subscription]struct{}),
	}, nil
}

// Close stops every subscription and closes the database.
func (d *DB) Close() error {
	d.subsMu.Lock()
	if d.closed {
		d.subsMu.Unlock()
		return nil
	}
	d.closed = true
	subs := make([]*Subscription, 0, len(d.subs))
	for s := range d.subs {
		subs = append(subs, s)
	}
	d.subsMu.Unlock()

	for _, s := range subs {
		s.Close()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

func (d *DB) isClosed() bool {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	return d.closed
}

func (d *DB) getJSON(key []byte, dst any) (bool, error) {
	val, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	return true, json.Unmarshal(val, dst)
}

func (d *DB) putJSON(key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.db.Set(key, b, pebble.Sync)
}

func (d *DB) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (d *DB) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.isClosed() {
		return errClosed
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
