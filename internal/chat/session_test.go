package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/whisper/groupchat/internal/identity"
	"github.com/whisper/groupchat/internal/protocol"
	"github.com/whisper/groupchat/internal/ws"
)

// ---------------------------------------------------------------------------
// Fake transport
// ---------------------------------------------------------------------------

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(target ws.Target, handler func(ws.Event)) ws.Conn {
	c := &fakeConn{target: target, handler: handler}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		t.Fatal("no connection dialed")
	}
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	target  ws.Target
	handler func(ws.Event)

	mu      sync.Mutex
	sent    [][]byte
	closes  int
	sendErr error

	// When set, Send and Close signal entered and then wait for release,
	// standing in for a write stuck on the network.
	entered chan struct{}
	release chan struct{}
}

func (c *fakeConn) block() {
	c.mu.Lock()
	entered, release := c.entered, c.release
	c.mu.Unlock()
	if release == nil {
		return
	}
	entered <- struct{}{}
	<-release
}

func (c *fakeConn) Send(data []byte) error {
	c.block()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.block()
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) stall() {
	c.mu.Lock()
	c.entered = make(chan struct{})
	c.release = make(chan struct{})
	c.mu.Unlock()
}

func (c *fakeConn) open()             { c.handler(ws.Event{Kind: ws.EventOpen}) }
func (c *fakeConn) frame(data string) { c.handler(ws.Event{Kind: ws.EventFrame, Data: []byte(data)}) }
func (c *fakeConn) drop(err error)    { c.handler(ws.Event{Kind: ws.EventClose, Err: err}) }

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

var testCreds = identity.Credentials{AccessToken: "tok", UserName: "Alice"}

func newTestManager(opts ...Option) (*Manager, *fakeDialer) {
	d := &fakeDialer{}
	return NewManager(d, "ws://chat.test/ws/chat", testCreds, opts...), d
}

// openSession joins roomID and completes the handshake.
func openSession(t *testing.T, m *Manager, d *fakeDialer, roomID protocol.ID) *fakeConn {
	t.Helper()
	m.Join(roomID)
	c := d.last(t)
	c.open()
	if m.State() != StateOpen {
		t.Fatalf("expected state open, got %s", m.State())
	}
	return c
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestJoinDialsTarget(t *testing.T) {
	m, d := newTestManager()
	if m.State() != StateIdle {
		t.Fatalf("expected idle, got %s", m.State())
	}

	m.Join("26")
	if m.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", m.State())
	}
	c := d.last(t)
	if c.target.RoomID != "26" || c.target.AccessToken != "tok" || c.target.BaseURL != "ws://chat.test/ws/chat" {
		t.Errorf("unexpected target: %+v", c.target)
	}
	if m.SessionID() == "" {
		t.Error("expected a session id")
	}

	c.open()
	if m.State() != StateOpen {
		t.Fatalf("expected open, got %s", m.State())
	}
	if m.UserName() != "Alice" {
		t.Errorf("expected user name %q, got %q", "Alice", m.UserName())
	}
}

func TestJoinSameRoomIsNoop(t *testing.T) {
	m, d := newTestManager()
	openSession(t, m, d, "1")

	m.Join("1")
	if d.count() != 1 {
		t.Fatalf("expected a single dial, got %d", d.count())
	}
	if m.State() != StateOpen {
		t.Errorf("expected open, got %s", m.State())
	}
}

func TestSwitchRoomClosesPreviousOnce(t *testing.T) {
	m, d := newTestManager()
	a := openSession(t, m, d, "A")
	a.frame(`{"senderName":"Bob","messageContent":"in A","sendAt":"1"}`)

	m.Join("B")
	b := d.last(t)
	if a.closeCount() != 1 {
		t.Fatalf("expected connection A closed once, got %d", a.closeCount())
	}
	if b == a || b.target.RoomID != "B" {
		t.Fatalf("expected a new connection for B, got %+v", b.target)
	}
	if len(m.Messages()) != 0 {
		t.Fatalf("expected history discarded on room switch, got %d", len(m.Messages()))
	}

	// Late events from A must not leak into B.
	a.frame(`{"senderName":"Bob","messageContent":"late A","sendAt":"2"}`)
	a.open()
	a.drop(errors.New("gone"))
	if m.State() != StateConnecting {
		t.Fatalf("stale events changed state to %s", m.State())
	}

	b.open()
	b.frame(`{"senderName":"Cid","messageContent":"in B","sendAt":"3"}`)
	msgs := m.Messages()
	if len(msgs) != 1 || msgs[0].MessageContent != "in B" {
		t.Fatalf("expected only B's message, got %+v", msgs)
	}
	if a.closeCount() != 1 {
		t.Errorf("connection A closed %d times", a.closeCount())
	}
}

func TestSwitchRoomWhileConnecting(t *testing.T) {
	m, d := newTestManager()
	m.Join("A")
	a := d.last(t)

	m.Join("B")
	if a.closeCount() != 1 {
		t.Fatalf("expected pending dial for A aborted once, got %d", a.closeCount())
	}

	a.open()
	if m.State() != StateConnecting {
		t.Fatalf("late open for A changed state to %s", m.State())
	}
}

func TestTransportCloseEntersClosed(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "7")

	c.drop(errors.New("network down"))
	if m.State() != StateClosed {
		t.Fatalf("expected closed, got %s", m.State())
	}

	c.frame(`{"senderName":"x","messageContent":"after close","sendAt":""}`)
	if len(m.Messages()) != 0 {
		t.Fatalf("frame after close was appended")
	}
	if d.count() != 1 {
		t.Fatalf("expected no automatic reconnect, got %d dials", d.count())
	}

	// A fresh selection of the same room reconnects.
	m.Join("7")
	if d.count() != 2 || m.State() != StateConnecting {
		t.Fatalf("expected reconnect on join, dials=%d state=%s", d.count(), m.State())
	}
}

func TestCloseTearsDown(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "7")

	m.Close()
	m.Close()
	if c.closeCount() != 1 {
		t.Fatalf("expected exactly one close, got %d", c.closeCount())
	}
	if m.State() != StateClosed {
		t.Fatalf("expected closed, got %s", m.State())
	}

	c.frame(`{"senderName":"x","messageContent":"late","sendAt":""}`)
	if len(m.Messages()) != 0 {
		t.Fatal("frame after teardown was appended")
	}
	if m.Send("hello") {
		t.Fatal("send succeeded after teardown")
	}
}

func TestCloseWhileIdle(t *testing.T) {
	m, _ := newTestManager()
	m.Close()
	if m.State() != StateIdle {
		t.Errorf("expected idle session to stay idle, got %s", m.State())
	}
}

func TestJoinEmptyRoomCloses(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "7")

	m.Join("")
	if c.closeCount() != 1 || m.State() != StateClosed || m.RoomID() != "" {
		t.Fatalf("unexpected state after leaving: closes=%d state=%s room=%q", c.closeCount(), m.State(), m.RoomID())
	}
}

func TestSetCredentialsReconnects(t *testing.T) {
	m, d := newTestManager()
	old := openSession(t, m, d, "5")

	m.SetCredentials(identity.Credentials{AccessToken: "tok-2", UserName: "Alice"})
	if old.closeCount() != 1 {
		t.Fatalf("expected old connection closed, got %d", old.closeCount())
	}
	c := d.last(t)
	if c == old || c.target.AccessToken != "tok-2" || c.target.RoomID != "5" {
		t.Fatalf("expected reconnect with new token, got %+v", c.target)
	}

	// Same credentials again: nothing happens.
	m.SetCredentials(identity.Credentials{AccessToken: "tok-2", UserName: "Alice"})
	if d.count() != 2 {
		t.Errorf("expected no extra dial, got %d", d.count())
	}
}

func TestSetCredentialsWhileIdle(t *testing.T) {
	m, d := newTestManager()
	m.SetCredentials(identity.Credentials{AccessToken: "later"})
	if d.count() != 0 {
		t.Fatalf("expected no dial without a room, got %d", d.count())
	}
	m.Join("1")
	if d.last(t).target.AccessToken != "later" {
		t.Errorf("expected new token on next join")
	}
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func TestInboundScenario(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "26")

	c.frame(`{"senderName":"Bob","messageContent":"hi","sendAt":"12:00"}`)
	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	want := protocol.ChatMessage{SenderName: "Bob", MessageContent: "hi", SendAt: "12:00"}
	if msgs[0] != want {
		t.Errorf("expected %+v, got %+v", want, msgs[0])
	}

	c.frame(`not json`)
	if got := m.Messages(); len(got) != 1 || got[0] != want {
		t.Errorf("malformed frame changed the sequence: %+v", got)
	}
	if m.State() != StateOpen {
		t.Errorf("malformed frame changed state to %s", m.State())
	}
}

func TestInboundOrderSkipsMalformed(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "1")

	frames := []string{
		`{"id":1,"senderName":"a","messageContent":"one","sendAt":"t1"}`,
		`{"broken"`,
		`{"id":2,"senderName":"b","messageContent":"two","sendAt":"t2"}`,
		`[]`,
		`{"id":3,"senderName":"a","messageContent":"three","sendAt":"t3"}`,
	}
	for _, f := range frames {
		c.frame(f)
	}

	msgs := m.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].MessageContent != want {
			t.Errorf("index %d: expected %q, got %q", i, want, msgs[i].MessageContent)
		}
	}
}

func TestFramesBeforeOpenIgnored(t *testing.T) {
	m, d := newTestManager()
	m.Join("1")
	d.last(t).frame(`{"senderName":"early","messageContent":"x","sendAt":""}`)
	if len(m.Messages()) != 0 {
		t.Fatal("frame before open was appended")
	}
}

func TestHistoryLimitOption(t *testing.T) {
	m, d := newTestManager(WithHistoryLimit(2))
	c := openSession(t, m, d, "1")
	for _, s := range []string{"a", "b", "c"} {
		c.frame(`{"senderName":"x","messageContent":"` + s + `","sendAt":""}`)
	}
	msgs := m.Messages()
	if len(msgs) != 2 || msgs[0].MessageContent != "b" || msgs[1].MessageContent != "c" {
		t.Fatalf("unexpected capped history: %+v", msgs)
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func TestSendBlankNeverSends(t *testing.T) {
	m, d := newTestManager()

	// Idle.
	if m.Send("") || m.Send("   ") {
		t.Fatal("blank send succeeded while idle")
	}

	c := openSession(t, m, d, "1")
	m.SetInput("   ")
	if m.Send("") || m.Send("   ") || m.Submit() {
		t.Fatal("blank send succeeded while open")
	}
	if n := len(c.sentFrames()); n != 0 {
		t.Fatalf("expected no frames, got %d", n)
	}
	if m.Input() != "   " {
		t.Errorf("blank send cleared the input buffer")
	}
}

func TestSendWhileOpen(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "26")

	m.SetInput("hello")
	if !m.Send("hello") {
		t.Fatal("expected send to succeed")
	}

	frames := c.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	var out protocol.OutboundMessage
	if err := json.Unmarshal(frames[0], &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.RoomID != "26" || out.Content != "hello" {
		t.Errorf("unexpected frame: %s", frames[0])
	}
	if m.Input() != "" {
		t.Errorf("expected input cleared, got %q", m.Input())
	}
	if len(m.Messages()) != 0 {
		t.Error("sent message was echoed locally")
	}
}

func TestSendWhileNotOpen(t *testing.T) {
	m, d := newTestManager()

	m.Join("1")
	c := d.last(t)
	m.SetInput("hello")
	if m.Send("hello") {
		t.Fatal("send succeeded while connecting")
	}
	if m.Input() != "hello" {
		t.Errorf("input cleared while connecting")
	}

	c.open()
	c.drop(nil)
	if m.Send("hello") {
		t.Fatal("send succeeded while closed")
	}
	if m.Input() != "hello" {
		t.Errorf("input cleared while closed")
	}
	if n := len(c.sentFrames()); n != 0 {
		t.Fatalf("expected no frames, got %d", n)
	}
}

func TestSubmitSendsInput(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "3")

	m.SetInput("from buffer")
	if !m.Submit() {
		t.Fatal("expected submit to succeed")
	}
	if len(c.sentFrames()) != 1 || m.Input() != "" {
		t.Fatalf("submit did not send and clear: frames=%d input=%q", len(c.sentFrames()), m.Input())
	}
}

func TestSendTransportErrorKeepsInput(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "3")
	c.sendErr = errors.New("broken pipe")

	m.SetInput("hello")
	if m.Send("hello") {
		t.Fatal("expected send to fail")
	}
	if m.Input() != "hello" {
		t.Errorf("failed send cleared the input")
	}
}

func TestSendOversizeRejected(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "3")

	big := make([]byte, protocol.MaxContentBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	if m.Send(string(big)) {
		t.Fatal("oversize send succeeded")
	}
	if len(c.sentFrames()) != 0 {
		t.Fatal("oversize content reached the transport")
	}

	m.SetInput("bad\xff")
	if m.Submit() {
		t.Fatal("invalid UTF-8 send succeeded")
	}
	if m.Input() != "bad\xff" {
		t.Errorf("rejected input should be kept, got %q", m.Input())
	}
	if len(c.sentFrames()) != 0 {
		t.Fatal("invalid content reached the transport")
	}
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

func TestOnChange(t *testing.T) {
	m, d := newTestManager()
	calls := 0
	m.OnChange(func() { calls++ })

	m.Join("1") // connecting
	c := d.last(t)
	c.open()      // open
	c.frame(`{}`) // message
	c.frame(`x`)  // dropped, no change
	m.Close()     // closed

	if calls != 4 {
		t.Errorf("expected 4 change notifications, got %d", calls)
	}
}

// ---------------------------------------------------------------------------
// Slow transport writes
// ---------------------------------------------------------------------------

func waitDone(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSlowCloseDoesNotBlockEvents(t *testing.T) {
	m, d := newTestManager()
	a := openSession(t, m, d, "A")
	a.stall()

	joined := make(chan struct{})
	go func() {
		m.Join("B")
		close(joined)
	}()
	<-a.entered

	// The close of A is stuck; B's events and readers must still get through.
	b := d.last(t)
	opened := make(chan struct{})
	go func() {
		b.open()
		b.frame(`{"senderName":"Bob","messageContent":"hi","sendAt":"12:00"}`)
		close(opened)
	}()
	waitDone(t, opened, "events of B while A is closing")

	if m.State() != StateOpen || m.RoomID() != "B" {
		t.Fatalf("expected B open, got room=%s state=%s", m.RoomID(), m.State())
	}
	if len(m.Messages()) != 1 {
		t.Fatalf("expected 1 message in B, got %d", len(m.Messages()))
	}

	close(a.release)
	waitDone(t, joined, "Join to return")
	if a.closeCount() != 1 {
		t.Errorf("expected A closed once, got %d", a.closeCount())
	}
}

func TestSlowSendDoesNotBlockEvents(t *testing.T) {
	m, d := newTestManager()
	c := openSession(t, m, d, "26")
	c.stall()

	m.SetInput("hello")
	sent := make(chan bool, 1)
	go func() { sent <- m.Submit() }()
	<-c.entered

	received := make(chan struct{})
	go func() {
		c.frame(`{"senderName":"Bob","messageContent":"hi","sendAt":"12:00"}`)
		close(received)
	}()
	waitDone(t, received, "inbound frame during a slow send")
	if len(m.Messages()) != 1 {
		t.Fatalf("expected 1 message, got %d", len(m.Messages()))
	}

	close(c.release)
	select {
	case ok := <-sent:
		if !ok {
			t.Fatal("expected send to succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Send")
	}
	if m.Input() != "" {
		t.Errorf("expected input cleared, got %q", m.Input())
	}
}

func TestSnapshotCountsPastHistoryLimit(t *testing.T) {
	m, d := newTestManager(WithHistoryLimit(2))
	c := openSession(t, m, d, "26")
	for _, text := range []string{"m1", "m2", "m3"} {
		c.frame(`{"senderName":"Bob","messageContent":"` + text + `","sendAt":"12:00"}`)
	}

	msgs, total := m.Snapshot()
	if total != 3 || len(msgs) != 2 || msgs[1].MessageContent != "m3" {
		t.Fatalf("unexpected snapshot: total=%d msgs=%+v", total, msgs)
	}

	m.Join("27")
	if _, total := m.Snapshot(); total != 0 {
		t.Errorf("expected total reset on room change, got %d", total)
	}
}
