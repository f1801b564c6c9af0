package chat

// Toggle is a boolean open/closed cell. Each UI surface owns its own.
type Toggle struct {
	open bool
}

// Flip inverts the state and returns the new value.
func (t *Toggle) Flip() bool {
	t.open = !t.open
	return t.open
}

func (t *Toggle) Set(open bool) { t.open = open }

func (t *Toggle) Open() bool { return t.open }
