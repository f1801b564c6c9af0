package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestDB(t *testing.T) (*DB, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	db, err := Open("/chat", WithFS(vfs.NewMem()), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, clock
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndList_Order(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	// all ids share one millisecond and must still sort by insertion
	var ids []string
	for _, text := range []string{"first", "second", "third"} {
		id, err := db.Create(ctx, chat.Message{AuthorID: "u1", Text: text})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	id, err := db.Create(ctx, chat.Message{AuthorID: "u2", Text: "fourth"})
	require.NoError(t, err)
	ids = append(ids, id)

	msgs, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
		require.NotNil(t, m.CreatedAt)
		assert.Equal(t, int64(1_700_000_000), m.CreatedAt.Seconds)
		assert.Nil(t, m.UpdatedAt)
		assert.NotNil(t, m.Images)
		assert.NotNil(t, m.Reactions)
	}
	assert.Equal(t, "fourth", msgs[3].Text)
}

func TestUpdate_Partial(t *testing.T) {
	db, clock := openTestDB(t)
	ctx := context.Background()

	id, err := db.Create(ctx, chat.Message{AuthorID: "u1", Text: "hi", Images: []string{"a.png"}})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, db.Update(ctx, id, Patch{Text: ptr("edited")}))
	m, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "edited", m.Text)
	assert.Equal(t, []string{"a.png"}, m.Images)
	require.NotNil(t, m.UpdatedAt)
	assert.Equal(t, int64(1_700_000_060), m.UpdatedAt.Seconds)

	// reaction-only updates leave updatedAt alone
	clock.Advance(time.Minute)
	reactions := []chat.Reaction{{SenderID: "u2", Reaction: "👍"}}
	require.NoError(t, db.Update(ctx, id, Patch{Reactions: &reactions}))
	m, err = db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reactions, m.Reactions)
	assert.Equal(t, int64(1_700_000_060), m.UpdatedAt.Seconds)
}

func TestNotFound(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	err := db.Update(ctx, "missing", Patch{Text: ptr("x")})
	var stErr *chat.StoreError
	require.True(t, errors.As(err, &stErr))
	assert.Equal(t, "update", stErr.Op)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.Delete(ctx, "missing"), ErrNotFound)
	_, err = db.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.MergeReaction(ctx, "missing", "u1", "👍")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	id, err := db.Create(ctx, chat.Message{Text: "bye"})
	require.NoError(t, err)
	require.NoError(t, db.Delete(ctx, id))
	msgs, err := db.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMergeReaction_ConcurrentReactorsKept(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	id, err := db.Create(ctx, chat.Message{Text: "vote"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	senders := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	for _, s := range senders {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			_, err := db.MergeReaction(ctx, id, sender, "👍")
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	m, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, m.Reactions, len(senders))

	out, err := db.MergeReaction(ctx, id, "u1", "❤️")
	require.NoError(t, err)
	assert.Len(t, out, len(senders))

	out, err = db.RetractReaction(ctx, id, "u1")
	require.NoError(t, err)
	assert.Len(t, out, len(senders)-1)
}

func TestSubscribe_DeliversAndStops(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	snapshots := make(chan []chat.Message, 16)
	sub, err := db.Subscribe(ctx, func(msgs []chat.Message) { snapshots <- msgs })
	require.NoError(t, err)

	assert.Empty(t, waitSnapshot(t, snapshots))

	_, err = db.Create(ctx, chat.Message{Text: "one"})
	require.NoError(t, err)
	got := waitSnapshot(t, snapshots)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Text)

	sub.Close()
	sub.Close()
	<-sub.Done()

	_, err = db.Create(ctx, chat.Message{Text: "two"})
	require.NoError(t, err)
	select {
	case s := <-snapshots:
		t.Fatalf("unexpected snapshot after Close: %v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_ContextCancelCloses(t *testing.T) {
	db, _ := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := db.Subscribe(ctx, func([]chat.Message) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
}

func TestClosedStore(t *testing.T) {
	db, _ := openTestDB(t)
	require.NoError(t, db.Close())
	_, err := db.Create(context.Background(), chat.Message{Text: "late"})
	var stErr *chat.StoreError
	assert.True(t, errors.As(err, &stErr))
	_, err = db.Subscribe(context.Background(), func([]chat.Message) {})
	assert.Error(t, err)
}

func TestSubscribe_RacingCloseNeverLeaks(t *testing.T) {
	for i := 0; i < 50; i++ {
		db, err := Open("/race", WithFS(vfs.NewMem()))
		require.NoError(t, err)

		subs := make(chan *Subscription, 8)
		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if sub, err := db.Subscribe(context.Background(), func([]chat.Message) {}); err == nil {
					subs <- sub
				}
			}()
		}
		require.NoError(t, db.Close())
		wg.Wait()
		close(subs)

		for sub := range subs {
			select {
			case <-sub.Done():
			case <-time.After(time.Second):
				t.Fatal("subscription registered after Close was never stopped")
			}
		}
	}
}

func waitSnapshot(t *testing.T, ch <-chan []chat.Message) []chat.Message {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
