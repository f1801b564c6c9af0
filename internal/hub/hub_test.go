package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/conversation"
	"github.com/pelusa-v/groupchat/internal/identity"
	"github.com/pelusa-v/groupchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.out <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type frame struct {
	Kind     string                     `json:"kind"`
	Messages []chat.Presentation        `json:"messages"`
	Notice   *conversation.Notice       `json:"notice"`
	State    *conversation.SessionState `json:"state"`
	Draft    *conversation.Draft        `json:"draft"`
}

// waitFrame skips frames until one of kind satisfies ok.
func waitFrame(t *testing.T, c *fakeConn, kind string, ok func(frame) bool) frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.out:
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			if f.Kind == kind && (ok == nil || ok(f)) {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", kind)
		}
	}
}

type env struct {
	db  *store.DB
	hub *Hub
}

func setup(t *testing.T) *env {
	t.Helper()
	db, err := store.Open("/hub", store.WithFS(vfs.NewMem()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx, db) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-runErr)
	})
	return &env{db: db, hub: h}
}

func (e *env) connect(t *testing.T, device, authID string) *fakeConn {
	t.Helper()
	ids := identity.NewStore(e.db.LocalStorage(device))
	if authID != "" {
		require.NoError(t, ids.Set(chat.Identity{AuthID: authID, Username: device, Avatar: "https://res.test/" + device}))
	}
	p, err := chat.NewProjector(chat.ProjectorOptions{})
	require.NoError(t, err)
	ctrl := conversation.New(conversation.Deps{Store: e.db, Feed: e.hub, Identity: ids, Projector: p})

	conn := newFakeConn()
	t.Cleanup(func() { _ = conn.Close() })
	c := e.hub.NewClient(device, conn, ctrl)
	require.True(t, e.hub.Register(c))
	go c.WritePump()
	go func() {
		c.ReadPump(context.Background())
		e.hub.Unregister(c)
	}()
	return conn
}

func send(t *testing.T, c *fakeConn, cmd Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	c.in <- data
}

func TestHub_FeedIsProjectedPerDevice(t *testing.T) {
	e := setup(t)
	ana := e.connect(t, "dev-ana", "u1")
	ben := e.connect(t, "dev-ben", "u2")

	f := waitFrame(t, ana, KindFeed, nil)
	assert.NotNil(t, f.Messages)
	waitFrame(t, ben, KindFeed, nil)

	_, err := e.db.Create(context.Background(), chat.Message{AuthorID: "u1", Text: "hi", Username: "ana"})
	require.NoError(t, err)

	hasOne := func(f frame) bool { return len(f.Messages) == 1 }
	fa := waitFrame(t, ana, KindFeed, hasOne)
	fb := waitFrame(t, ben, KindFeed, hasOne)
	assert.True(t, fa.Messages[0].IsSelf)
	assert.False(t, fb.Messages[0].IsSelf)
	assert.True(t, fa.Messages[0].ShowHeader)
	assert.NotEmpty(t, fa.Messages[0].DisplayTime)
	assert.Len(t, e.hub.Latest(), 1)
}

func TestHub_ReactCommand(t *testing.T) {
	e := setup(t)
	ana := e.connect(t, "dev-ana", "u1")
	ben := e.connect(t, "dev-ben", "u2")
	id, err := e.db.Create(context.Background(), chat.Message{AuthorID: "u1", Text: "vote"})
	require.NoError(t, err)
	waitFrame(t, ben, KindFeed, func(f frame) bool { return len(f.Messages) == 1 })

	send(t, ben, Command{Type: "show_picker", ID: id})
	st := waitFrame(t, ben, KindState, nil)
	assert.True(t, st.State.PickerOpen)

	send(t, ben, Command{Type: "react", ID: id, Reaction: "👍"})
	st = waitFrame(t, ben, KindState, nil)
	assert.False(t, st.State.PickerOpen)

	f := waitFrame(t, ana, KindFeed, func(f frame) bool {
		return len(f.Messages) == 1 && len(f.Messages[0].Reactions) == 1
	})
	assert.Equal(t, []string{"👍"}, f.Messages[0].Badge.Symbols)
	assert.Zero(t, f.Messages[0].Badge.Count)

	send(t, ana, Command{Type: "react", ID: id, Reaction: "👍"})
	f = waitFrame(t, ben, KindFeed, func(f frame) bool {
		return len(f.Messages) == 1 && len(f.Messages[0].Reactions) == 2
	})
	assert.Equal(t, chat.ReactionBadge{Symbols: []string{"👍"}, Count: 2}, f.Messages[0].Badge)
}

func TestHub_Notices(t *testing.T) {
	e := setup(t)
	ben := e.connect(t, "dev-ben", "u2")
	id, err := e.db.Create(context.Background(), chat.Message{AuthorID: "u1", Text: "not yours"})
	require.NoError(t, err)
	waitFrame(t, ben, KindFeed, func(f frame) bool { return len(f.Messages) == 1 })

	send(t, ben, Command{Type: "delete", ID: id})
	n := waitFrame(t, ben, KindNotice, nil)
	assert.Equal(t, chat.KindForbidden, n.Notice.Kind)

	send(t, ben, Command{Type: "react", ID: id, Reaction: "🦄"})
	n = waitFrame(t, ben, KindNotice, nil)
	assert.Equal(t, chat.KindValidation, n.Notice.Kind)

	send(t, ben, Command{Type: "shout"})
	n = waitFrame(t, ben, KindNotice, nil)
	assert.Contains(t, n.Notice.Message, "shout")

	ben.in <- []byte("{")
	n = waitFrame(t, ben, KindNotice, nil)
	assert.Equal(t, "Malformed command", n.Notice.Message)
}

func TestHub_BeginEditSendsDraft(t *testing.T) {
	e := setup(t)
	ana := e.connect(t, "dev-ana", "u1")
	id, err := e.db.Create(context.Background(), chat.Message{AuthorID: "u1", Text: "typo"})
	require.NoError(t, err)
	waitFrame(t, ana, KindFeed, func(f frame) bool { return len(f.Messages) == 1 })

	send(t, ana, Command{Type: "begin_edit", ID: id})
	st := waitFrame(t, ana, KindState, nil)
	require.NotNil(t, st.Draft)
	assert.Equal(t, "typo", st.Draft.Text)
	assert.Equal(t, id, st.State.EditingID)

	send(t, ana, Command{Type: "cancel_edit"})
	st = waitFrame(t, ana, KindState, nil)
	assert.Empty(t, st.State.EditingID)
}

func TestHub_StopsWhenStoreCloses(t *testing.T) {
	db, err := store.Open("/hub", store.WithFS(vfs.NewMem()))
	require.NoError(t, err)
	h := New()
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(context.Background(), db) }()
	require.Eventually(t, func() bool { return h.Latest() != nil }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, db.Close())
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, errSubscriptionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.False(t, h.Register(&Client{Id: "late"}))
}
