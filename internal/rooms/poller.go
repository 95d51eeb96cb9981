// Package rooms polls the backend for the signed-in user's room list, the
// pull-based alternative to the NATS room list push.
package rooms

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/whisper/groupchat/internal/metrics"
	"github.com/whisper/groupchat/internal/protocol"
)

// maxBodyBytes bounds a room list response.
const maxBodyBytes = 1 << 20

// PollerConfig holds polling parameters.
type PollerConfig struct {
	URL         string        // room list endpoint
	AccessToken string        // sent as a bearer token
	Interval    time.Duration // time between polls
	Timeout     time.Duration // per-request timeout
}

// DefaultPollerConfig returns sensible defaults; URL must still be set.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Poller fetches the room list on a fixed interval.
type Poller struct {
	config  PollerConfig
	client  *http.Client
	handler func([]protocol.RoomSummary)
}

// NewPoller creates a Poller that hands every fetched list to handler.
func NewPoller(config PollerConfig, handler func([]protocol.RoomSummary)) *Poller {
	return &Poller{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		handler: handler,
	}
}

// Fetch performs one poll.
func (p *Poller) Fetch(ctx context.Context) ([]protocol.RoomSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("rooms: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.AccessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rooms: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rooms: fetch: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("rooms: read body: %w", err)
	}
	return protocol.ParseRoomList(data)
}

// Run polls immediately and then every Interval until ctx is done. Failed
// polls are logged and skipped; the previous list stays in effect.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			log.Println("[rooms] poller stopped")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	rooms, err := p.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[rooms] poll failed: %v", err)
		}
		return
	}
	metrics.RoomListUpdates.WithLabelValues("poll").Inc()
	p.handler(rooms)
}
