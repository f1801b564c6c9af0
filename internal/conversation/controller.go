package conversation

import (
	"context"
	"strings"
	"sync"

	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/imagehost"
	"github.com/pelusa-v/groupchat/internal/logger"
	"github.com/pelusa-v/groupchat/internal/metrics"
	"github.com/pelusa-v/groupchat/internal/store"
)

// MessageStore is the durable side of the conversation.
type MessageStore interface {
	Create(ctx context.Context, m chat.Message) (string, error)
	Update(ctx context.Context, id string, p store.Patch) error
	Delete(ctx context.Context, id string) error
}

// ReactionMerger is implemented by stores that can upsert a reaction as one
// atomic read-modify-write.
type ReactionMerger interface {
	MergeReaction(ctx context.Context, id, senderID, symbol string) ([]chat.Reaction, error)
	RetractReaction(ctx context.Context, id, senderID string) ([]chat.Reaction, error)
}

// Feed returns the most recent ordered snapshot seen by the subscription.
type Feed interface {
	Latest() []chat.Message
}

type IdentitySource interface {
	Get() (*chat.Identity, error)
}

type Uploader interface {
	Configured() bool
	Upload(ctx context.Context, files []imagehost.File) ([]imagehost.Result, error)
}

type Deps struct {
	Store     MessageStore
	Feed      Feed
	Identity  IdentitySource
	Uploader  Uploader
	Projector *chat.Projector
	Allowed   chat.ReactionSet
}

// Draft is the composer input.
type Draft struct {
	Text      string           `json:"text"`
	Files     []imagehost.File `json:"-"`
	EditingID string           `json:"editingId,omitempty"`
}

// SessionState is what a client needs to redraw its composer and menus.
type SessionState struct {
	EditingID     string `json:"editingId,omitempty"`
	Pending       bool   `json:"pending"`
	ActionsOpen   bool   `json:"actionsOpen"`
	ActionsTarget string `json:"actionsTarget,omitempty"`
	PickerOpen    bool   `json:"pickerOpen"`
	PickerTarget  string `json:"pickerTarget,omitempty"`
}

// Controller orchestrates one device's conversation view. All durable
// effects go through the store; the feed is only read.
type Controller struct {
	deps Deps

	mu            sync.Mutex
	pending       bool
	editingID     string
	actions       chat.Toggle
	actionsTarget string
	picker        chat.Toggle
	pickerTarget  string
}

func New(deps Deps) *Controller {
	if deps.Allowed == nil {
		deps.Allowed = chat.NewReactionSet(nil)
	}
	return &Controller{deps: deps}
}

// Outcome says what a successful Submit did.
type Outcome struct {
	ID     string `json:"id"`
	Edited bool   `json:"edited"`
}

// Submit creates a message, or updates the one being edited. Files are
// uploaded first and a failed upload leaves the store untouched.
func (c *Controller) Submit(ctx context.Context, d Draft) (Outcome, error) {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return Outcome{}, chat.ErrBusy
	}
	editingID := d.EditingID
	if editingID == "" {
		editingID = c.editingID
	}
	c.pending = true
	c.mu.Unlock()

	out, err := c.submit(ctx, d, editingID)

	c.mu.Lock()
	c.pending = false
	if err == nil && editingID != "" && c.editingID == editingID {
		c.editingID = ""
	}
	c.mu.Unlock()

	if err != nil {
		logger.Warn("submit_failed", "editing_id", editingID, "kind", chat.KindOf(err), "error", err)
	}
	return out, err
}

func (c *Controller) submit(ctx context.Context, d Draft, editingID string) (Outcome, error) {
	me, err := c.identity()
	if err != nil {
		return Outcome{}, err
	}
	if len(d.Files) > 0 && (c.deps.Uploader == nil || !c.deps.Uploader.Configured()) {
		return Outcome{}, chat.ErrUploaderConfig
	}
	// whitespace only counts for emptiness; the text is stored as typed
	text := d.Text
	if editingID == "" && strings.TrimSpace(text) == "" && len(d.Files) == 0 {
		return Outcome{}, chat.ErrEmptyMessage
	}

	var prev chat.Message
	if editingID != "" {
		if prev, err = c.ownMessage(editingID, me, "update"); err != nil {
			return Outcome{}, err
		}
	}

	urls := []string{}
	if len(d.Files) > 0 {
		res, err := c.deps.Uploader.Upload(ctx, d.Files)
		if err != nil {
			return Outcome{}, err
		}
		urls = imagehost.URLs(res)
	}

	if editingID == "" {
		id, err := c.deps.Store.Create(ctx, chat.Message{
			AuthorID: me.AuthID,
			Text:     text,
			Images:   urls,
			Avatar:   me.Avatar,
			Username: me.Username,
		})
		if err != nil {
			return Outcome{}, err
		}
		metrics.MessagesCreated.Inc()
		logger.Info("message_created", "id", id, "auth_id", me.AuthID, "images", len(urls))
		return Outcome{ID: id}, nil
	}

	// an edit without new files keeps what the message already shows
	images := urls
	if len(images) == 0 {
		images = append([]string{}, prev.Images...)
	}
	if err := c.deps.Store.Update(ctx, editingID, store.Patch{Text: &text, Images: &images}); err != nil {
		return Outcome{}, err
	}
	metrics.MessagesUpdated.Inc()
	logger.Info("message_updated", "id", editingID, "auth_id", me.AuthID, "images", len(images))
	return Outcome{ID: editingID, Edited: true}, nil
}

// Delete removes one of the caller's own messages.
func (c *Controller) Delete(ctx context.Context, id string) error {
	me, err := c.identity()
	if err != nil {
		return err
	}
	if _, err := c.ownMessage(id, me, "delete"); err != nil {
		return err
	}
	if err := c.deps.Store.Delete(ctx, id); err != nil {
		logger.Warn("delete_failed", "id", id, "error", err)
		return err
	}
	metrics.MessagesDeleted.Inc()
	logger.Info("message_deleted", "id", id, "auth_id", me.AuthID)

	c.mu.Lock()
	if c.editingID == id {
		c.editingID = ""
	}
	if c.actionsTarget == id {
		c.actions.Set(false)
		c.actionsTarget = ""
	}
	c.mu.Unlock()
	return nil
}

// SelectReaction sets the caller's reaction on a message, replacing any
// earlier pick.
func (c *Controller) SelectReaction(ctx context.Context, id, symbol string) error {
	if !c.deps.Allowed.Allows(symbol) {
		return chat.ErrInvalidReaction
	}
	me, err := c.identity()
	if err != nil {
		return err
	}
	if m, ok := c.deps.Store.(ReactionMerger); ok {
		_, err = m.MergeReaction(ctx, id, me.AuthID, symbol)
	} else {
		err = c.replaceReactions(ctx, id, func(cur []chat.Reaction) []chat.Reaction {
			return chat.ApplyReaction(cur, me.AuthID, symbol)
		})
	}
	if err != nil {
		logger.Warn("reaction_failed", "id", id, "error", err)
		return err
	}
	metrics.ReactionsApplied.Inc()
	logger.Debug("reaction_applied", "id", id, "auth_id", me.AuthID, "reaction", symbol)
	c.ClosePicker()
	return nil
}

// RetractReaction removes the caller's reaction from a message.
func (c *Controller) RetractReaction(ctx context.Context, id string) error {
	me, err := c.identity()
	if err != nil {
		return err
	}
	if m, ok := c.deps.Store.(ReactionMerger); ok {
		_, err = m.RetractReaction(ctx, id, me.AuthID)
	} else {
		err = c.replaceReactions(ctx, id, func(cur []chat.Reaction) []chat.Reaction {
			return chat.RemoveReaction(cur, me.AuthID)
		})
	}
	if err != nil {
		return err
	}
	metrics.ReactionsApplied.Inc()
	c.ClosePicker()
	return nil
}

// replaceReactions computes the next list from the latest snapshot and writes
// it back whole. Concurrent reactors may overwrite each other here.
func (c *Controller) replaceReactions(ctx context.Context, id string, next func([]chat.Reaction) []chat.Reaction) error {
	m, ok := chat.FindMessage(c.latest(), id)
	if !ok {
		return &chat.StoreError{Op: "react", ID: id, Err: chat.ErrNotFound}
	}
	reactions := next(m.Reactions)
	return c.deps.Store.Update(ctx, id, store.Patch{Reactions: &reactions})
}

// BeginEdit loads one of the caller's messages into the composer.
func (c *Controller) BeginEdit(id string) (Draft, error) {
	me, err := c.identity()
	if err != nil {
		return Draft{}, err
	}
	m, err := c.ownMessage(id, me, "edit")
	if err != nil {
		return Draft{}, err
	}
	c.mu.Lock()
	c.editingID = id
	c.actions.Set(false)
	c.actionsTarget = ""
	c.mu.Unlock()
	return Draft{Text: m.Text, EditingID: id}, nil
}

func (c *Controller) CancelEdit() {
	c.mu.Lock()
	c.editingID = ""
	c.mu.Unlock()
}

// OpenActions flips the edit/delete menu for id and reports whether it is open.
func (c *Controller) OpenActions(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.actions.Open() && c.actionsTarget != id {
		c.actionsTarget = id
		return true
	}
	if c.actions.Flip() {
		c.actionsTarget = id
		return true
	}
	c.actionsTarget = ""
	return false
}

func (c *Controller) ShowPicker(id string) {
	c.mu.Lock()
	c.picker.Set(true)
	c.pickerTarget = id
	c.mu.Unlock()
}

func (c *Controller) ClosePicker() {
	c.mu.Lock()
	c.picker.Set(false)
	c.pickerTarget = ""
	c.mu.Unlock()
}

func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionState{
		EditingID:     c.editingID,
		Pending:       c.pending,
		ActionsOpen:   c.actions.Open(),
		ActionsTarget: c.actionsTarget,
		PickerOpen:    c.picker.Open(),
		PickerTarget:  c.pickerTarget,
	}
}

// Feed projects the latest snapshot for this device.
func (c *Controller) Feed() []chat.Presentation {
	return c.Project(c.latest())
}

// Project renders messages from this device's point of view.
func (c *Controller) Project(messages []chat.Message) []chat.Presentation {
	authID := ""
	if me, err := c.deps.Identity.Get(); err == nil && me != nil {
		authID = me.AuthID
	}
	return c.deps.Projector.Project(messages, authID)
}

func (c *Controller) latest() []chat.Message {
	if c.deps.Feed == nil {
		return nil
	}
	return c.deps.Feed.Latest()
}

func (c *Controller) identity() (*chat.Identity, error) {
	me, err := c.deps.Identity.Get()
	if err != nil {
		return nil, err
	}
	if me == nil || me.AuthID == "" || strings.TrimSpace(me.Username) == "" || me.Avatar == "" {
		return nil, chat.ErrNoIdentity
	}
	return me, nil
}

func (c *Controller) ownMessage(id string, me *chat.Identity, op string) (chat.Message, error) {
	m, ok := chat.FindMessage(c.latest(), id)
	if !ok {
		return chat.Message{}, &chat.StoreError{Op: op, ID: id, Err: chat.ErrNotFound}
	}
	if m.AuthorID != me.AuthID {
		return chat.Message{}, chat.ErrNotAuthor
	}
	return m, nil
}
