// Package chat implements the live session of one chat room: it owns the
// single websocket connection for the joined room, appends every inbound
// message to the room history in arrival order and sends the user's
// messages. Transport notifications are funneled through one dispatch
// function that drives the connection state machine:
//
//	Idle -> Connecting -> Open -> Closed
//
// Closed is reachable from every state. Only a new Join leaves it.
package chat

import (
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/whisper/groupchat/internal/identity"
	"github.com/whisper/groupchat/internal/metrics"
	"github.com/whisper/groupchat/internal/protocol"
	"github.com/whisper/groupchat/internal/ws"
)

// State is the connection state of a Manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistoryLimit caps the number of retained messages. 0 keeps all.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) { m.history = NewHistory(n) }
}

// Manager is the chat session of one mounted room view. At most one
// connection is live at any time.
type Manager struct {
	mu        sync.Mutex
	dialer    ws.Dialer
	baseURL   string
	creds     identity.Credentials
	roomID    protocol.ID
	state     State
	conn      ws.Conn
	gen       uint64 // identifies the live connection; bumped on teardown
	sessionID string
	history   *History
	input     string
	listeners []func()
}

// NewManager creates an idle session that dials baseURL through dialer.
func NewManager(dialer ws.Dialer, baseURL string, creds identity.Credentials, opts ...Option) *Manager {
	m := &Manager{
		dialer:  dialer,
		baseURL: baseURL,
		creds:   creds,
		history: NewHistory(0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join switches the session to roomID. The previous connection, if any, is
// detached and closed exactly once, and the message history is discarded.
// The close happens after the lock is released, so events keep flowing.
// Joining the room that is already connecting or open is a no-op. An empty
// roomID just closes the session.
func (m *Manager) Join(roomID protocol.ID) {
	m.mu.Lock()
	if roomID == m.roomID && (m.state == StateConnecting || m.state == StateOpen) {
		m.mu.Unlock()
		return
	}
	sessionID := m.sessionID
	var old ws.Conn
	if roomID == "" {
		old = m.teardownLocked()
		m.roomID = ""
		m.history.Reset()
	} else {
		old = m.connectLocked(roomID)
	}
	m.mu.Unlock()

	closeConn(old, sessionID)
	m.notify()
}

// SetCredentials replaces the credentials. A live or dialing connection is
// replaced by one authenticated with the new token.
func (m *Manager) SetCredentials(creds identity.Credentials) {
	m.mu.Lock()
	if creds == m.creds {
		m.mu.Unlock()
		return
	}
	m.creds = creds
	reconnect := m.roomID != "" && (m.state == StateConnecting || m.state == StateOpen)
	sessionID := m.sessionID
	var old ws.Conn
	if reconnect {
		old = m.connectLocked(m.roomID)
	}
	m.mu.Unlock()

	closeConn(old, sessionID)
	if reconnect {
		m.notify()
	}
}

// Close tears the session down. It is safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	changed := m.state != StateClosed
	old := m.teardownLocked()
	sessionID := m.sessionID
	m.mu.Unlock()

	closeConn(old, sessionID)
	if changed {
		m.notify()
	}
}

// Send transmits content to the joined room. It is a no-op returning false
// unless the connection is open and content is not blank. Content that
// exceeds the limits of protocol.ValidateContent (byte or character count,
// invalid UTF-8) is rejected the same way. On success the pending input is
// cleared. The message is not added to the history; it shows up once the
// backend relays it back.
func (m *Manager) Send(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}

	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return false
	}
	conn, gen, roomID, sessionID := m.conn, m.gen, m.roomID, m.sessionID
	m.mu.Unlock()

	if err := protocol.ValidateContent(content); err != nil {
		log.Printf("[chat] session=%s room=%s send rejected: %v", sessionID, roomID, err)
		return false
	}
	data, err := protocol.NewOutboundMessage(roomID, content)
	if err != nil {
		log.Printf("[chat] session=%s build message: %v", sessionID, err)
		return false
	}
	// The write may block up to the transport's write timeout; inbound
	// events keep flowing meanwhile.
	if err := conn.Send(data); err != nil {
		log.Printf("[chat] session=%s room=%s send failed: %v", sessionID, roomID, err)
		return false
	}

	m.mu.Lock()
	if gen == m.gen {
		m.input = ""
	}
	m.mu.Unlock()

	metrics.FramesTotal.WithLabelValues("sent").Inc()
	m.notify()
	return true
}

// SetInput replaces the pending input buffer.
func (m *Manager) SetInput(text string) {
	m.mu.Lock()
	m.input = text
	m.mu.Unlock()
}

// Input returns the pending input buffer.
func (m *Manager) Input() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}

// Submit sends the pending input buffer.
func (m *Manager) Submit() bool {
	return m.Send(m.Input())
}

// OnChange registers fn to be called after the state or the history changes.
// fn runs on the goroutine that caused the change and must not block.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RoomID returns the joined room.
func (m *Manager) RoomID() protocol.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

// UserName returns the signed-in user's display name.
func (m *Manager) UserName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.UserName
}

// SessionID returns the id of the current connection, used in logs.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Messages returns the history of the joined room in arrival order.
func (m *Manager) Messages() []protocol.ChatMessage {
	return m.history.Messages()
}

// Snapshot returns the history together with the number of messages received
// since the room was joined. Unlike len(Messages()), the count keeps growing
// once a history limit starts evicting.
func (m *Manager) Snapshot() ([]protocol.ChatMessage, int) {
	return m.history.Snapshot()
}

// connectLocked detaches the current connection and dials roomID. The
// detached connection is returned for the caller to close once the lock is
// released.
func (m *Manager) connectLocked(roomID protocol.ID) ws.Conn {
	old := m.teardownLocked()

	m.roomID = roomID
	m.history.Reset()
	m.sessionID = uuid.New().String()
	m.setStateLocked(StateConnecting)

	gen := m.gen
	target := ws.Target{
		BaseURL:     m.baseURL,
		RoomID:      roomID.String(),
		AccessToken: m.creds.AccessToken,
	}
	log.Printf("[chat] session=%s room=%s connecting to %s", m.sessionID, roomID, target.Redacted())
	m.conn = m.dialer.Dial(target, func(ev ws.Event) {
		m.dispatch(gen, ev)
	})
	return old
}

// teardownLocked detaches the live connection and invalidates every event it
// may still deliver. Only the caller that receives the connection closes it,
// so it is closed exactly once.
func (m *Manager) teardownLocked() ws.Conn {
	m.gen++
	old := m.conn
	m.conn = nil
	if m.state == StateConnecting || m.state == StateOpen {
		log.Printf("[chat] session=%s room=%s closed", m.sessionID, m.roomID)
		m.setStateLocked(StateClosed)
	}
	return old
}

// closeConn closes a detached connection outside the manager lock; closing
// writes a close frame and may block on the network.
func closeConn(conn ws.Conn, sessionID string) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		log.Printf("[chat] session=%s close: %v", sessionID, err)
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	if m.state == StateOpen {
		metrics.OpenSessions.Dec()
	}
	if s == StateOpen {
		metrics.OpenSessions.Inc()
	}
	m.state = s
	metrics.ConnectionTransitions.WithLabelValues(s.String()).Inc()
}

// dispatch applies one transport event. Events from a connection that has
// since been torn down are ignored.
func (m *Manager) dispatch(gen uint64, ev ws.Event) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	changed := false
	switch ev.Kind {
	case ws.EventOpen:
		if m.state == StateConnecting {
			m.setStateLocked(StateOpen)
			log.Printf("[chat] session=%s room=%s open", m.sessionID, m.roomID)
			changed = true
		}

	case ws.EventFrame:
		if m.state != StateOpen {
			break
		}
		msg, err := protocol.ParseChatMessage(ev.Data)
		if err != nil {
			metrics.FramesTotal.WithLabelValues("dropped").Inc()
			log.Printf("[chat] session=%s room=%s dropping malformed frame: %v", m.sessionID, m.roomID, err)
			break
		}
		metrics.FramesTotal.WithLabelValues("received").Inc()
		m.history.Append(msg)
		changed = true

	case ws.EventClose:
		m.conn = nil
		m.gen++
		if ev.Err != nil {
			log.Printf("[chat] session=%s room=%s connection lost: %v", m.sessionID, m.roomID, ev.Err)
		}
		m.setStateLocked(StateClosed)
		changed = true
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	listeners := make([]func(), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
