package types

import (
	"strings"
	"time"
)

// Category describes one listing page of a streaming site.
type Category struct {
	URL   string
	Name  string
	Label string
}

// FileLabel returns the label used in capture file names.
// It falls back to Name, then to "category".
func (c Category) FileLabel() string {
	if l := strings.TrimSpace(c.Label); l != "" {
		return l
	}
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return "category"
}

// Room is a single live room page.
type Room struct {
	URL      string
	Category Category
	Index    int
}

// SessionResult describes one finished capture session.
type SessionResult struct {
	SessionID   string
	Room        Room
	Quality     string
	PendingPath string
	CapturePath string
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

// OK reports whether the session finished without error.
func (r SessionResult) OK() bool {
	return r.Err == nil
}

// Duration returns the wall time spent on the session.
func (r SessionResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
