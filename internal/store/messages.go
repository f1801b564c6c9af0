package store

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/pebble"
	"github.com/oklog/ulid/v2"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/metrics"
)

const msgPrefix = "msg/"

func msgKey(id string) []byte { return []byte(msgPrefix + id) }

// Patch is a partial message update. Nil fields are left unchanged.
type Patch struct {
	Text      *string
	Images    *[]string
	Reactions *[]chat.Reaction
}

func (p Patch) touchesContent() bool { return p.Text != nil || p.Images != nil }

func storeErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &chat.StoreError{Op: op, ID: id, Err: err}
}

// Create stores m under a new id with a server timestamp and returns the id.
func (d *DB) Create(ctx context.Context, m chat.Message) (string, error) {
	if err := d.checkOpen(ctx); err != nil {
		return "", storeErr("create", "", err)
	}
	d.mu.Lock()
	now := d.now()
	id, err := ulid.New(ulid.Timestamp(now), d.entropy)
	if err != nil {
		d.mu.Unlock()
		return "", storeErr("create", "", err)
	}
	m.ID = id.String()
	m.CreatedAt = chat.NewTimestamp(now)
	m.UpdatedAt = nil
	normalize(&m)
	err = d.putJSON(msgKey(m.ID), &m)
	d.mu.Unlock()
	if err != nil {
		return "", storeErr("create", "", err)
	}
	d.notify()
	return m.ID, nil
}

// Get returns a single message.
func (d *DB) Get(ctx context.Context, id string) (chat.Message, error) {
	if err := d.checkOpen(ctx); err != nil {
		return chat.Message{}, storeErr("get", id, err)
	}
	m, err := d.get(id)
	return m, storeErr("get", id, err)
}

func (d *DB) get(id string) (chat.Message, error) {
	var m chat.Message
	ok, err := d.getJSON(msgKey(id), &m)
	if err != nil {
		return chat.Message{}, err
	}
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	return m, nil
}

// List returns every message in creation order.
func (d *DB) List(ctx context.Context) ([]chat.Message, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, storeErr("list", "", err)
	}
	msgs, err := d.list()
	return msgs, storeErr("list", "", err)
}

func (d *DB) list() ([]chat.Message, error) {
	msgs := make([]chat.Message, 0)
	err := d.scan([]byte(msgPrefix), func(_, val []byte) error {
		var m chat.Message
		if err := unmarshalMessage(val, &m); err != nil {
			return err
		}
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Update applies a partial update. Text or image changes stamp UpdatedAt.
func (d *DB) Update(ctx context.Context, id string, p Patch) error {
	if err := d.checkOpen(ctx); err != nil {
		return storeErr("update", id, err)
	}
	err := d.modify(id, func(m *chat.Message) {
		if p.Text != nil {
			m.Text = *p.Text
		}
		if p.Images != nil {
			m.Images = append([]string{}, (*p.Images)...)
		}
		if p.Reactions != nil {
			m.Reactions = append([]chat.Reaction{}, (*p.Reactions)...)
		}
		if p.touchesContent() {
			m.UpdatedAt = chat.NewTimestamp(d.now())
		}
	})
	return storeErr("update", id, err)
}

// Delete removes a message.
func (d *DB) Delete(ctx context.Context, id string) error {
	if err := d.checkOpen(ctx); err != nil {
		return storeErr("delete", id, err)
	}
	d.mu.Lock()
	_, err := d.get(id)
	if err == nil {
		err = d.db.Delete(msgKey(id), pebble.Sync)
	}
	d.mu.Unlock()
	if err != nil {
		return storeErr("delete", id, err)
	}
	d.notify()
	return nil
}

// MergeReaction upserts senderID's reaction as a single read-modify-write,
// so concurrent reactors on the same message never drop each other.
func (d *DB) MergeReaction(ctx context.Context, id, senderID, symbol string) ([]chat.Reaction, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, storeErr("react", id, err)
	}
	var out []chat.Reaction
	err := d.modify(id, func(m *chat.Message) {
		m.Reactions = chat.ApplyReaction(m.Reactions, senderID, symbol)
		out = m.Reactions
	})
	return out, storeErr("react", id, err)
}

// RetractReaction removes senderID's reaction, if any.
func (d *DB) RetractReaction(ctx context.Context, id, senderID string) ([]chat.Reaction, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, storeErr("unreact", id, err)
	}
	var out []chat.Reaction
	err := d.modify(id, func(m *chat.Message) {
		m.Reactions = chat.RemoveReaction(m.Reactions, senderID)
		out = m.Reactions
	})
	return out, storeErr("unreact", id, err)
}

func (d *DB) modify(id string, fn func(m *chat.Message)) error {
	d.mu.Lock()
	m, err := d.get(id)
	if err == nil {
		fn(&m)
		normalize(&m)
		err = d.putJSON(msgKey(id), &m)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.notify()
	return nil
}

func normalize(m *chat.Message) {
	if m.Images == nil {
		m.Images = []string{}
	}
	if m.Reactions == nil {
		m.Reactions = []chat.Reaction{}
	}
}

func unmarshalMessage(b []byte, m *chat.Message) error {
	if err := json.Unmarshal(b, m); err != nil {
		return err
	}
	normalize(m)
	return nil
}
