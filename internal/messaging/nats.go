// Package messaging carries room lists over NATS. The room relay publishes
// each user's room summaries on rooms.unread.<user>; chat clients subscribe
// to their own subject and feed the lists to the unread toaster.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/groupchat/internal/metrics"
	"github.com/whisper/groupchat/internal/protocol"
)

// SubjectRoomList is the room list subject prefix; the user token follows.
const SubjectRoomList = "rooms.unread"

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "groupchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Client wraps the NATS connection and tracks room list subscriptions per
// user so they can be removed again.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription // user -> subscription
}

// Connect dials NATS. It returns an error if the initial connection fails;
// later disconnects are retried by the NATS client itself.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// SubscribeRoomList delivers every room list pushed for user to handler.
// Payloads that are not a JSON array of room summaries are logged and
// skipped. Subscribing again for the same user replaces the previous
// subscription.
func (c *Client) SubscribeRoomList(user string, handler func([]protocol.RoomSummary)) error {
	subject := RoomListSubject(user)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		rooms, err := protocol.ParseRoomList(msg.Data)
		if err != nil {
			log.Printf("[nats] %s: %v", subject, err)
			return
		}
		metrics.RoomListUpdates.WithLabelValues("push").Inc()
		handler(rooms)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	old := c.subs[user]
	c.subs[user] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe()
	}
	return nil
}

// UnsubscribeRoomList removes the room list subscription of user.
func (c *Client) UnsubscribeRoomList(user string) error {
	c.mu.Lock()
	sub, ok := c.subs[user]
	delete(c.subs, user)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("messaging: no room list subscription for %q", user)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", sub.Subject, err)
	}
	return nil
}

// PublishRoomList publishes rooms for user.
func (c *Client) PublishRoomList(user string, rooms []protocol.RoomSummary) error {
	if rooms == nil {
		rooms = []protocol.RoomSummary{}
	}
	data, err := json.Marshal(rooms)
	if err != nil {
		return fmt.Errorf("messaging: marshal room list: %w", err)
	}
	return c.conn.Publish(RoomListSubject(user), data)
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close drains all subscriptions and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for user, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain room list of %s: %v", user, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
}

// RoomListSubject returns the subject carrying a user's room list. Subject
// tokens cannot contain whitespace, dots or wildcards, so those are replaced.
func RoomListSubject(user string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '.', '*', '>':
			return '_'
		}
		return r
	}, user)
	if token == "" {
		token = "_"
	}
	return SubjectRoomList + "." + token
}
