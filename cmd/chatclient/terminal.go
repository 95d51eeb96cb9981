package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/whisper/groupchat/internal/chat"
	"github.com/whisper/groupchat/internal/protocol"
	"github.com/whisper/groupchat/internal/toast"
)

// sendAtLayouts are the timestamp layouts the backend is known to emit.
var sendAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// formatTime renders a backend timestamp as a local clock time. Values that
// do not parse are shown unchanged.
func formatTime(raw string) string {
	for _, layout := range sendAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			if sameDay(t, time.Now()) {
				return t.Format("15:04")
			}
			return t.Format("01-02 15:04")
		}
	}
	return raw
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// printer writes new messages and toasts to the terminal.
type printer struct {
	mu         sync.Mutex
	w          io.Writer
	session    *chat.Manager
	formatTime func(string) string
	sessionID  string
	printed    int // messages of the current session already written
	state      chat.State
}

func newPrinter(w io.Writer, session *chat.Manager, formatTime func(string) string) *printer {
	return &printer{w: w, session: session, formatTime: formatTime}
}

// refresh prints every message not printed yet and state changes.
func (p *printer) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state := p.session.State(); state != p.state {
		p.state = state
		fmt.Fprintf(p.w, "-- room %s: %s\n", p.session.RoomID(), state)
	}
	if id := p.session.SessionID(); id != p.sessionID {
		p.sessionID = id
		p.printed = 0
	}

	// printed counts received messages, not history positions: once the
	// history limit evicts, the new messages are the last total-printed.
	msgs, total := p.session.Snapshot()
	fresh := total - p.printed
	if fresh < 0 {
		fresh = total
	}
	if fresh > len(msgs) {
		fresh = len(msgs)
	}
	for _, m := range msgs[len(msgs)-fresh:] {
		fmt.Fprintln(p.w, formatMessage(m, p.formatTime))
	}
	p.printed = total
}

func (p *printer) toast(room protocol.RoomSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "** %s\n", toast.Render(room, p.formatTime))
}

func (p *printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func formatMessage(m protocol.ChatMessage, formatTime func(string) string) string {
	ts := m.SendAt
	if formatTime != nil {
		ts = formatTime(ts)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, m.SenderName, m.MessageContent)
}

// readInput sends each line read from r until EOF or /quit.
func readInput(r io.Reader, session *chat.Manager, out *printer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "/") {
			session.SetInput(line)
			if !session.Submit() && strings.TrimSpace(line) != "" {
				out.println(fmt.Sprintf("-- not sent (%s)", session.State()))
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return
		case "/join":
			if len(fields) != 2 {
				out.println("-- usage: /join <room>")
				continue
			}
			session.Join(protocol.ID(fields[1]))
		case "/state":
			out.println(fmt.Sprintf("-- room %s: %s (user %s)", session.RoomID(), session.State(), session.UserName()))
		default:
			out.println("-- unknown command " + fields[0])
		}
	}
}
