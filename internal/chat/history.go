package chat

import (
	"sync"

	"github.com/whisper/groupchat/internal/protocol"
)

// History is the ordered message sequence of the joined room. Messages are
// kept in arrival order. With a positive limit the oldest messages are
// evicted once the limit is reached; a limit of 0 keeps everything.
// It is goroutine-safe.
type History struct {
	mu    sync.RWMutex
	limit int
	items []protocol.ChatMessage
	total int // appended since the last Reset, evicted ones included
}

// NewHistory creates an empty History.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{limit: limit}
}

// Append adds a message to the tail.
func (h *History) Append(msg protocol.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = append(h.items, msg)
	h.total++
	if h.limit > 0 && len(h.items) > h.limit {
		// Copy down instead of reslicing so evicted messages are released.
		n := copy(h.items, h.items[len(h.items)-h.limit:])
		clear(h.items[n:])
		h.items = h.items[:n]
	}
}

// Messages returns a copy of the sequence, oldest first. The result is never
// nil.
func (h *History) Messages() []protocol.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]protocol.ChatMessage, len(h.items))
	copy(result, h.items)
	return result
}

// Snapshot returns a copy of the sequence together with the number of
// messages appended since the last Reset. The difference between two totals
// tells how many messages arrived in between, even after eviction.
func (h *History) Snapshot() ([]protocol.ChatMessage, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]protocol.ChatMessage, len(h.items))
	copy(result, h.items)
	return result, h.total
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Reset discards every message (called when the room changes).
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
	h.total = 0
}
