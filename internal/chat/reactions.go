package chat

// DefaultReactions is the picker offered when none is configured.
var DefaultReactions = []string{"👍", "❤️", "😂", "😮", "😢", "🙏"}

// ReactionBadge is the compact reaction summary rendered under a message.
// Count is the number of entries and is only set when there is more than one.
type ReactionBadge struct {
	Symbols []string `json:"symbols"`
	Count   int      `json:"count,omitempty"`
}

// ApplyReaction returns the reaction list after senderID picks symbol.
// An existing entry for the sender is replaced in place, otherwise a new
// entry is appended. current is not modified.
func ApplyReaction(current []Reaction, senderID, symbol string) []Reaction {
	next := make([]Reaction, len(current), len(current)+1)
	copy(next, current)
	for i := range next {
		if next[i].SenderID == senderID {
			next[i].Reaction = symbol
			return next
		}
	}
	return append(next, Reaction{SenderID: senderID, Reaction: symbol})
}

// RemoveReaction returns the reaction list without senderID's entry.
func RemoveReaction(current []Reaction, senderID string) []Reaction {
	next := make([]Reaction, 0, len(current))
	for _, r := range current {
		if r.SenderID != senderID {
			next = append(next, r)
		}
	}
	return next
}

// Badge collapses reactions into distinct symbols in first-seen order.
func Badge(reactions []Reaction) ReactionBadge {
	b := ReactionBadge{Symbols: []string{}}
	seen := make(map[string]bool, len(reactions))
	for _, r := range reactions {
		if seen[r.Reaction] {
			continue
		}
		seen[r.Reaction] = true
		b.Symbols = append(b.Symbols, r.Reaction)
	}
	if len(reactions) > 1 {
		b.Count = len(reactions)
	}
	return b
}

// ReactionSet is the set of symbols a picker offers.
type ReactionSet map[string]struct{}

func NewReactionSet(symbols []string) ReactionSet {
	if len(symbols) == 0 {
		symbols = DefaultReactions
	}
	s := make(ReactionSet, len(symbols))
	for _, sym := range symbols {
		s[sym] = struct{}{}
	}
	return s
}

func (s ReactionSet) Allows(symbol string) bool {
	_, ok := s[symbol]
	return ok
}
