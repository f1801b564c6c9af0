package conversation

import (
	"errors"
	"sync"

	"github.com/pelusa-v/groupchat/internal/chat"
)

// Sessions holds one controller per device.
type Sessions struct {
	mu   sync.Mutex
	m    map[string]*Controller
	open func(device string) *Controller
}

// NewSessions creates controllers on first use with open.
func NewSessions(open func(device string) *Controller) *Sessions {
	return &Sessions{m: make(map[string]*Controller), open: open}
}

func (s *Sessions) Get(device string) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[device]
	if !ok {
		c = s.open(device)
		s.m[device] = c
	}
	return c
}

// Forget drops the device's controller, e.g. on logout.
func (s *Sessions) Forget(device string) {
	s.mu.Lock()
	delete(s.m, device)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Notice is a dismissable user-facing error.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var noticeText = map[string]string{
	chat.KindInvalidFormat: "The configured date format is not supported.",
	chat.KindBusy:          "Your previous message is still being sent.",
	chat.KindForbidden:     "You can only change your own messages.",
	chat.KindNotFound:      "That message no longer exists.",
	chat.KindUpload:        "An image could not be uploaded. Nothing was sent.",
	chat.KindStore:         "The chat could not be updated. Please try again.",
	chat.KindInternal:      "Something went wrong.",
}

// NoticeFor turns err into a notice. Validation errors keep their own text.
func NoticeFor(err error) Notice {
	kind := chat.KindOf(err)
	if kind == chat.KindValidation {
		return Notice{Kind: kind, Message: validationText(err)}
	}
	return Notice{Kind: kind, Message: noticeText[kind]}
}

func validationText(err error) string {
	switch {
	case errors.Is(err, chat.ErrNoIdentity):
		return "Create a profile before chatting."
	case errors.Is(err, chat.ErrEmptyMessage):
		return "Write something or attach an image."
	case errors.Is(err, chat.ErrInvalidReaction):
		return "That reaction is not available."
	case errors.Is(err, chat.ErrUploaderConfig):
		return "Image uploads are not configured."
	}
	return err.Error()
}
