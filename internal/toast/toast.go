// Package toast keeps one transient notification per room with unread
// messages. A toast opens when its room enters the unread set (or the room's
// unread activity changes) and closes after a fixed duration; the record
// stays tracked until the room leaves the unread set.
package toast

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/whisper/groupchat/internal/metrics"
	"github.com/whisper/groupchat/internal/protocol"
	"github.com/whisper/groupchat/internal/schedule"
)

// DefaultDuration is how long a toast stays visible.
const DefaultDuration = 5000 * time.Millisecond

// Toast is the visibility record of one room.
type Toast struct {
	RoomID protocol.ID
	Open   bool
}

type record struct {
	toast    Toast
	summary  protocol.RoomSummary
	deadline time.Time
	timer    schedule.Timer
}

// Option configures a Toaster.
type Option func(*Toaster)

// WithDuration overrides DefaultDuration.
func WithDuration(d time.Duration) Option {
	return func(t *Toaster) {
		if d > 0 {
			t.duration = d
		}
	}
}

// WithShowHook registers fn to be called for every toast that opens.
func WithShowHook(fn func(protocol.RoomSummary)) Option {
	return func(t *Toaster) { t.onShow = fn }
}

// Toaster tracks toast records for the current room list. It is
// goroutine-safe; timer callbacks run on the scheduler's goroutine.
type Toaster struct {
	mu       sync.Mutex
	sched    schedule.Scheduler
	duration time.Duration
	onShow   func(protocol.RoomSummary)
	rooms    []protocol.RoomSummary
	records  map[protocol.ID]*record
	epoch    uint64 // bumped on every recompute; stale timer callbacks compare against it
	closed   bool
}

// New creates a Toaster using sched for its timers.
func New(sched schedule.Scheduler, opts ...Option) *Toaster {
	t := &Toaster{
		sched:    sched,
		duration: DefaultDuration,
		records:  make(map[protocol.ID]*record),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update replaces the room list and recomputes the tracked set. A list equal
// to the current one is not a change.
func (t *Toaster) Update(rooms []protocol.RoomSummary) {
	t.mu.Lock()
	if t.closed || slices.Equal(t.rooms, rooms) {
		t.mu.Unlock()
		return
	}
	t.rooms = slices.Clone(rooms)
	shown := t.recomputeLocked()
	onShow := t.onShow
	t.mu.Unlock()

	if onShow != nil {
		for _, room := range shown {
			onShow(room)
		}
	}
}

// recomputeLocked cancels every pending timer and rebuilds the tracked set.
// It returns the rooms whose toast was (re)opened.
func (t *Toaster) recomputeLocked() []protocol.RoomSummary {
	t.epoch++
	t.stopTimersLocked()

	now := t.sched.Now()
	next := make(map[protocol.ID]*record)
	var shown []protocol.RoomSummary

	for _, room := range t.rooms {
		if !room.HasUnread() {
			continue
		}
		if _, dup := next[room.RoomID]; dup {
			continue
		}

		rec, ok := t.records[room.RoomID]
		if !ok || !sameActivity(rec.summary, room) {
			rec = &record{
				toast:    Toast{RoomID: room.RoomID, Open: true},
				deadline: now.Add(t.duration),
			}
			shown = append(shown, room)
			metrics.ToastsShown.Inc()
			log.Printf("[toast] room=%s unread=%d shown", room.RoomID, room.UnreadCount)
		}
		rec.summary = room

		if rec.toast.Open {
			remaining := rec.deadline.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			rec.timer = t.scheduleLocked(rec, remaining)
		}
		next[room.RoomID] = rec
	}

	t.records = next
	return shown
}

func (t *Toaster) scheduleLocked(rec *record, d time.Duration) schedule.Timer {
	epoch := t.epoch
	return t.sched.AfterFunc(d, func() {
		t.expire(rec, epoch)
	})
}

// expire hides a toast. Callbacks from a previous recompute or for a record
// that is no longer tracked are ignored.
func (t *Toaster) expire(rec *record, epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || epoch != t.epoch || t.records[rec.toast.RoomID] != rec {
		return
	}
	rec.toast.Open = false
	rec.timer = nil
}

func (t *Toaster) stopTimersLocked() {
	for _, rec := range t.records {
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
	}
}

// Visible returns the rooms of the current list, in list order, that have
// unread messages and an open toast. A room without a record counts as
// closed.
func (t *Toaster) Visible() []protocol.RoomSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var visible []protocol.RoomSummary
	seen := make(map[protocol.ID]bool)
	for _, room := range t.rooms {
		if !room.HasUnread() || seen[room.RoomID] {
			continue
		}
		seen[room.RoomID] = true
		if rec, ok := t.records[room.RoomID]; ok && rec.toast.Open {
			visible = append(visible, room)
		}
	}
	return visible
}

// Toast returns the record for roomID.
func (t *Toaster) Toast(roomID protocol.ID) (Toast, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[roomID]
	if !ok {
		return Toast{}, false
	}
	return rec.toast, true
}

// Records returns every tracked record in room list order.
func (t *Toaster) Records() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Toast, 0, len(t.records))
	seen := make(map[protocol.ID]bool)
	for _, room := range t.rooms {
		if rec, ok := t.records[room.RoomID]; ok && !seen[room.RoomID] {
			seen[room.RoomID] = true
			out = append(out, rec.toast)
		}
	}
	return out
}

// Close cancels every pending timer. Later updates and timer callbacks are
// ignored.
func (t *Toaster) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.epoch++
	t.stopTimersLocked()
}

// sameActivity reports whether two summaries describe the same unread state.
func sameActivity(a, b protocol.RoomSummary) bool {
	return a.UnreadCount == b.UnreadCount &&
		a.LastUnreadMessageContent == b.LastUnreadMessageContent &&
		a.LastUnreadMessageSenderName == b.LastUnreadMessageSenderName &&
		a.LastUnreadMessageTime == b.LastUnreadMessageTime
}

// Render formats a toast as one line. formatTime may be nil, in which case
// the raw time is shown.
func Render(room protocol.RoomSummary, formatTime func(string) string) string {
	ts := room.LastUnreadMessageTime
	if formatTime != nil {
		ts = formatTime(ts)
	}
	line := fmt.Sprintf("%s (%d): %s: %s", room.RoomName, room.UnreadCount,
		room.LastUnreadMessageSenderName, room.LastUnreadMessageContent)
	if ts != "" {
		line += " (" + ts + ")"
	}
	return line
}
