// Package status keeps a live view of a capture run and serves it over
// HTTP.
package status

import (
	"sync"
	"time"

	"github.com/ytget/livecap/types"
)

// keepResults is how many finished sessions a snapshot carries.
const keepResults = 20

// Result is the JSON form of one finished session.
type Result struct {
	SessionID  string    `json:"session_id"`
	Room       string    `json:"room"`
	Category   string    `json:"category"`
	Quality    string    `json:"quality,omitempty"`
	File       string    `json:"file,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Snapshot is the state reported by GET /status.
type Snapshot struct {
	Site        string    `json:"site"`
	Category    string    `json:"category"`
	Round       int       `json:"round"`
	Rooms       int       `json:"rooms"`
	RoomIndex   int       `json:"room_index"`
	CurrentRoom string    `json:"current_room,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Captured    int       `json:"captured"`
	Failed      int       `json:"failed"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Results     []Result  `json:"results"`
}

// Tracker records the progress of a run. It implements livecap.Observer
// and is safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.snap.StartedAt = t.now()
	t.snap.UpdatedAt = t.snap.StartedAt
	return t
}

func (t *Tracker) update(f func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f(&t.snap)
	t.snap.UpdatedAt = t.now()
}

// RoundStarted resets the per-round fields.
func (t *Tracker) RoundStarted(round int, site string, cat types.Category) {
	t.update(func(s *Snapshot) {
		s.Round = round
		s.Site = site
		s.Category = cat.FileLabel()
		s.Rooms = 0
		s.RoomIndex = 0
		s.CurrentRoom = ""
		s.SessionID = ""
	})
}

// RoomsFound records how many rooms the round will visit.
func (t *Tracker) RoomsFound(rooms []types.Room) {
	t.update(func(s *Snapshot) { s.Rooms = len(rooms) })
}

// SessionStarted marks room as the one being captured.
func (t *Tracker) SessionStarted(sessionID string, room types.Room) {
	t.update(func(s *Snapshot) {
		s.RoomIndex = room.Index
		s.CurrentRoom = room.URL
		s.SessionID = sessionID
	})
}

// SessionFinished counts res and keeps it in the recent results.
func (t *Tracker) SessionFinished(res types.SessionResult) {
	r := Result{
		SessionID:  res.SessionID,
		Room:       res.Room.URL,
		Category:   res.Room.Category.FileLabel(),
		Quality:    res.Quality,
		File:       res.CapturePath,
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration().Milliseconds(),
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	t.update(func(s *Snapshot) {
		if res.OK() {
			s.Captured++
		} else {
			s.Failed++
			s.LastError = r.Error
		}
		s.CurrentRoom = ""
		s.SessionID = ""
		s.Results = append(s.Results, r)
		if n := len(s.Results); n > keepResults {
			s.Results = append([]Result(nil), s.Results[n-keepResults:]...)
		}
	})
}

// RoundFinished records a round level error such as no rooms.
func (t *Tracker) RoundFinished(round int, err error) {
	if err == nil {
		return
	}
	t.update(func(s *Snapshot) { s.LastError = err.Error() })
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	s.Results = append([]Result{}, t.snap.Results...)
	return s
}
