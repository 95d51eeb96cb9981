// Command roomrelay polls the room list endpoint on behalf of one user and
// republishes every list on NATS, so chat clients receive unread updates
// without polling the backend themselves.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/whisper/groupchat/internal/config"
	"github.com/whisper/groupchat/internal/messaging"
	"github.com/whisper/groupchat/internal/protocol"
	"github.com/whisper/groupchat/internal/rooms"
)

func main() {
	log.Println("Starting groupchat room relay...")

	var cfg config.Relay
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// NATS setup.
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "groupchat-roomrelay"

	natsClient, err := messaging.Connect(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	// Poller setup.
	pollConfig := rooms.DefaultPollerConfig()
	pollConfig.URL = cfg.RoomsURL
	pollConfig.AccessToken = cfg.AccessToken
	pollConfig.Interval = cfg.PollInterval

	poller := rooms.NewPoller(pollConfig, func(list []protocol.RoomSummary) {
		if err := natsClient.PublishRoomList(cfg.User, list); err != nil {
			log.Printf("[relay] publish room list: %v", err)
		}
	})

	log.Printf("groupchat room relay running")
	log.Printf("  rooms_url:     %s", cfg.RoomsURL)
	log.Printf("  user:          %s", cfg.User)
	log.Printf("  subject:       %s", messaging.RoomListSubject(cfg.User))
	log.Printf("  poll_interval: %s", cfg.PollInterval)
	log.Printf("  nats_url:      %s", natsConfig.URL)

	// Graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller.Run(ctx)
	log.Printf("shutting down...")
}
