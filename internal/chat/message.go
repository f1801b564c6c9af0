package chat

import "time"

// Timestamp mirrors a document-store server timestamp.
// A nil *Timestamp means the server has not assigned it yet.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanoseconds"`
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

func (ts *Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos))
}

type Reaction struct {
	SenderID string `json:"senderId"`
	Reaction string `json:"reaction"`
}

// Message is a chat record as the message store holds it.
// Username and Avatar are copied from the author's profile at send time.
type Message struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"authId"`
	Text      string     `json:"text"`
	Images    []string   `json:"images"`
	Avatar    string     `json:"avatar"`
	Username  string     `json:"username"`
	Reactions []Reaction `json:"reactions"`
	CreatedAt *Timestamp `json:"createdAt"`
	UpdatedAt *Timestamp `json:"updatedAt"`
}

// Identity is the device-local chat profile.
type Identity struct {
	AuthID   string `json:"authId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Presentation is the per-message view state derived by a Projector.
type Presentation struct {
	Message
	IsSelf      bool          `json:"isSelf"`
	HasImages   bool          `json:"hasImages"`
	DisplayTime string        `json:"displayTime"`
	DisplayDate string        `json:"displayDate"`
	ShowHeader  bool          `json:"showHeader"`
	Badge       ReactionBadge `json:"badge"`
}

// FindMessage returns the message with id from an ordered snapshot.
func FindMessage(messages []Message, id string) (Message, bool) {
	for _, m := range messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}
