package hub

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/conversation"
	"github.com/pelusa-v/groupchat/internal/logger"
)

const sendBuffer = 16

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Client is one websocket connection. A device may hold several.
type Client struct {
	Id     string
	Device string
	Conn   ConnLike
	Send   chan []byte

	hub  *Hub
	ctrl *conversation.Controller
}

// Command is an inbound websocket request.
type Command struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Reaction string `json:"reaction,omitempty"`
}

func (h *Hub) NewClient(device string, conn ConnLike, ctrl *conversation.Controller) *Client {
	return &Client{
		Id:     uuid.NewString(),
		Device: device,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		hub:    h,
		ctrl:   ctrl,
	}
}

// enqueue drops the frame when the client is too slow; the next feed frame
// carries the full state again.
func (c *Client) enqueue(data []byte) {
	select {
	case c.Send <- data:
	default:
		logger.Debug("client_frame_dropped", "client_id", c.Id)
	}
}

func (c *Client) ReadPump(ctx context.Context) {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reject("Malformed command")
			continue
		}
		c.handle(ctx, cmd)
	}
}

// WritePump drains Send until the hub closes it. The conn belongs to the
// caller and is not closed here.
func (c *Client) WritePump() {
	for data := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("client_write_failed", "client_id", c.Id, "error", err)
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) {
	var err error
	var draft *conversation.Draft
	switch cmd.Type {
	case "react":
		err = c.ctrl.SelectReaction(ctx, cmd.ID, cmd.Reaction)
	case "unreact":
		err = c.ctrl.RetractReaction(ctx, cmd.ID)
	case "delete":
		err = c.ctrl.Delete(ctx, cmd.ID)
	case "begin_edit":
		var d conversation.Draft
		if d, err = c.ctrl.BeginEdit(cmd.ID); err == nil {
			draft = &d
		}
	case "cancel_edit":
		c.ctrl.CancelEdit()
	case "open_actions":
		c.ctrl.OpenActions(cmd.ID)
	case "show_picker":
		c.ctrl.ShowPicker(cmd.ID)
	case "close_picker":
		c.ctrl.ClosePicker()
	default:
		logger.Debug("unknown_command", "client_id", c.Id, "type", cmd.Type)
		c.reject("Unknown command " + cmd.Type)
		return
	}
	if err != nil {
		c.notice(err)
	}
	state := c.ctrl.State()
	// other tabs of the same device share the controller
	c.hub.SendTo(c.Device, Frame{Kind: KindState, State: &state, Draft: draft})
}

func (c *Client) reject(msg string) {
	c.hub.deliver(c, Frame{Kind: KindNotice, Notice: &conversation.Notice{Kind: chat.KindValidation, Message: msg}})
}

func (c *Client) notice(err error) {
	n := conversation.NoticeFor(err)
	c.hub.deliver(c, Frame{Kind: KindNotice, Notice: &n})
}
