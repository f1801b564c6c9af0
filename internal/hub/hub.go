package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/conversation"
	"github.com/pelusa-v/groupchat/internal/logger"
	"github.com/pelusa-v/groupchat/internal/metrics"
	"github.com/pelusa-v/groupchat/internal/store"
)

// Frame kinds sent to websocket clients.
const (
	KindFeed   = "feed"
	KindNotice = "notice"
	KindState  = "state"
)

// Frame is a notice or state frame. Feed frames are built by feedFrame.
type Frame struct {
	Kind   string                     `json:"kind"`
	Notice *conversation.Notice       `json:"notice,omitempty"`
	State  *conversation.SessionState `json:"state,omitempty"`
	Draft  *conversation.Draft        `json:"draft,omitempty"`
}

// Subscriber is the message store's change feed.
type Subscriber interface {
	Subscribe(ctx context.Context, fn store.SnapshotFunc) (*store.Subscription, error)
}

var errSubscriptionClosed = errors.New("store subscription closed")

// Hub owns the single store subscription and fans every snapshot out to the
// connected clients, projected for each client's device.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	latest  []chat.Message

	RegisterChan   chan *Client
	UnregisterChan chan *Client
	snapshots      chan []chat.Message
	done           chan struct{}
}

func New() *Hub {
	return &Hub{
		clients:        map[string]*Client{},
		RegisterChan:   make(chan *Client),
		UnregisterChan: make(chan *Client),
		snapshots:      make(chan []chat.Message, 1),
		done:           make(chan struct{}),
	}
}

// Latest returns the most recent snapshot, or nil before the first one.
func (h *Hub) Latest() []chat.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Register adds c unless the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.RegisterChan <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.UnregisterChan <- c:
	case <-h.done:
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run subscribes to src and serves clients until ctx is cancelled or the
// subscription ends.
func (h *Hub) Run(ctx context.Context, src Subscriber) error {
	defer close(h.done)
	defer h.dropAll()

	sub, err := src.Subscribe(ctx, func(msgs []chat.Message) {
		select {
		case h.snapshots <- msgs:
		case <-ctx.Done():
		}
	})
	if err != nil {
		logger.Error("hub_subscribe_failed", "error", err)
		return err
	}
	defer sub.Close()
	logger.Info("hub_started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("hub_stopped")
			return nil

		case <-sub.Done():
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("hub_subscription_closed")
			return errSubscriptionClosed

		case c := <-h.RegisterChan:
			h.mu.Lock()
			h.clients[c.Id] = c
			latest := h.latest
			h.mu.Unlock()
			metrics.ConnectedClients.Inc()
			logger.Debug("client_registered", "client_id", c.Id, "device", c.Device)
			if data := h.feedFrame(c, latest); data != nil {
				c.enqueue(data)
			}

		case c := <-h.UnregisterChan:
			h.mu.Lock()
			_, ok := h.clients[c.Id]
			if ok {
				delete(h.clients, c.Id)
				close(c.Send)
			}
			h.mu.Unlock()
			if ok {
				metrics.ConnectedClients.Dec()
				logger.Debug("client_unregistered", "client_id", c.Id, "device", c.Device)
			}

		case msgs := <-h.snapshots:
			metrics.SnapshotsDelivered.Inc()
			h.mu.Lock()
			h.latest = msgs
			h.mu.Unlock()

			h.mu.RLock()
			for _, c := range h.clients {
				if data := h.feedFrame(c, msgs); data != nil {
					c.enqueue(data)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// SendTo delivers f to every client of device.
func (h *Hub) SendTo(device string, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.Device == device {
			c.enqueue(mustMarshal(f))
		}
	}
}

// deliver sends f to c if c is still registered.
func (h *Hub) deliver(c *Client, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c.Id] == c {
		c.enqueue(mustMarshal(f))
	}
}

// feedFrame always carries the messages array, even when it is empty.
func (h *Hub) feedFrame(c *Client, msgs []chat.Message) []byte {
	data, err := json.Marshal(struct {
		Kind     string              `json:"kind"`
		Messages []chat.Presentation `json:"messages"`
	}{KindFeed, c.ctrl.Project(msgs)})
	if err != nil {
		logger.Error("frame_marshal_failed", "kind", KindFeed, "error", err)
		return nil
	}
	return data
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.Send)
		metrics.ConnectedClients.Dec()
	}
}

func mustMarshal(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		logger.Error("frame_marshal_failed", "kind", f.Kind, "error", err)
		return []byte(`{"kind":"notice","notice":{"kind":"internal","message":"Something went wrong."}}`)
	}
	return data
}
