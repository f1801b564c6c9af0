package chat

import "time"

// headerGap is the silence after which a date/time header is shown again.
const headerGap = 5 * 60

type ProjectorOptions struct {
	DateFormat string
	Location   *time.Location
}

// Projector derives presentation records from an ordered message feed.
// It holds configuration only and is safe for concurrent use.
type Projector struct {
	dateFormat string
	loc        *time.Location
}

func NewProjector(opts ProjectorOptions) (*Projector, error) {
	if err := ValidDateFormat(opts.DateFormat); err != nil {
		return nil, err
	}
	format := opts.DateFormat
	if format == "" {
		format = DefaultDateFormat
	}
	return &Projector{dateFormat: format, loc: locOrLocal(opts.Location)}, nil
}

func (p *Projector) DateFormat() string { return p.dateFormat }

func (p *Projector) Location() *time.Location { return p.loc }

// Project returns one record per message in input order. The feed is never
// re-sorted and headers are recomputed from adjacent pairs on every call.
func (p *Projector) Project(messages []Message, localAuthID string) []Presentation {
	out := make([]Presentation, len(messages))
	for i, m := range messages {
		var prev *Message
		if i > 0 {
			prev = &messages[i-1]
		}
		out[i] = p.record(m, prev, localAuthID)
	}
	return out
}

func (p *Projector) record(m Message, prev *Message, localAuthID string) Presentation {
	// format was validated in NewProjector
	date, _ := FormatDate(m.CreatedAt, p.dateFormat, p.loc)
	return Presentation{
		Message:     m,
		IsSelf:      localAuthID != "" && m.AuthorID == localAuthID,
		HasImages:   len(m.Images) > 0,
		DisplayTime: FormatTime(m.CreatedAt, p.loc),
		DisplayDate: date,
		ShowHeader:  showHeader(m.CreatedAt, prev),
		Badge:       Badge(m.Reactions),
	}
}

func showHeader(cur *Timestamp, prev *Message) bool {
	if prev == nil || prev.CreatedAt == nil {
		return true
	}
	if cur == nil {
		return false
	}
	return cur.Seconds-prev.CreatedAt.Seconds > headerGap
}
