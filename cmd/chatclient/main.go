// Command chatclient is a terminal client for the groupware chat. It joins a
// room over the chat websocket, prints messages as they arrive, sends every
// line typed on stdin and shows unread toasts for the other rooms.
//
// Usage:
//
//	CHAT_ROOM_ID=26 chatclient
//
// Lines starting with "/" are commands: /join <room>, /state, /quit.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/whisper/groupchat/internal/chat"
	"github.com/whisper/groupchat/internal/config"
	"github.com/whisper/groupchat/internal/identity"
	"github.com/whisper/groupchat/internal/messaging"
	"github.com/whisper/groupchat/internal/metrics"
	"github.com/whisper/groupchat/internal/protocol"
	"github.com/whisper/groupchat/internal/rooms"
	"github.com/whisper/groupchat/internal/schedule"
	"github.com/whisper/groupchat/internal/toast"
	"github.com/whisper/groupchat/internal/ws"
)

func main() {
	var cfg config.Client
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Credentials ---
	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer closeStorage()
	creds := identity.Load(ctx, storage)

	log.Printf("groupchat client starting")
	log.Printf("  chat_url:        %s", cfg.ChatURL)
	log.Printf("  room_id:         %s", cfg.RoomID)
	log.Printf("  user:            %s", creds.UserName)
	log.Printf("  storage:         %s", cfg.Storage)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  rooms_url:       %s", cfg.RoomsURL)
	log.Printf("  toast_duration:  %s", cfg.ToastDuration)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	// --- Chat session ---
	wsConfig := ws.DefaultClientConfig()
	wsConfig.PingInterval = cfg.PingInterval
	wsConfig.DialTimeout = cfg.DialTimeout
	session := chat.NewManager(ws.NewClientDialer(wsConfig), cfg.ChatURL, creds,
		chat.WithHistoryLimit(cfg.HistoryLimit))
	defer session.Close()

	out := newPrinter(os.Stdout, session, formatTime)
	session.OnChange(out.refresh)

	// --- Unread toasts ---
	toaster := toast.New(schedule.NewReal(),
		toast.WithDuration(cfg.ToastDuration),
		toast.WithShowHook(out.toast))
	defer toaster.Close()

	closeNATS, err := subscribeRoomList(cfg.NATSURL, creds.UserName, toaster.Update)
	if err != nil {
		log.Fatalf("failed to subscribe to room list: %v", err)
	}
	defer closeNATS()
	if cfg.RoomsURL != "" {
		pollConfig := rooms.DefaultPollerConfig()
		pollConfig.URL = cfg.RoomsURL
		pollConfig.AccessToken = creds.AccessToken
		pollConfig.Interval = cfg.RoomsPollInterval
		go rooms.NewPoller(pollConfig, toaster.Update).Run(ctx)
	}

	if cfg.RoomID != "" {
		session.Join(protocol.ID(cfg.RoomID))
	}

	go func() {
		readInput(os.Stdin, session, out)
		stop()
	}()

	<-ctx.Done()
	log.Printf("shutting down...")
}

// openStorage opens the credential storage selected by cfg. The returned
// close function is always non-nil.
func openStorage(cfg config.Client) (identity.Storage, func(), error) {
	if cfg.Storage == "redis" {
		s, err := identity.NewRedisStorage(cfg.RedisAddr, cfg.Profile)
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Printf("storage close error: %v", err)
			}
		}, nil
	}
	return identity.NewFileStorage(cfg.StoragePath), func() {}, nil
}

// subscribeRoomList feeds the room lists pushed for user to update. The
// subscription is skipped when NATS is not configured or the user name is
// unknown, since the subject is derived from it. The returned close function
// is always non-nil.
func subscribeRoomList(natsURL, user string, update func([]protocol.RoomSummary)) (func(), error) {
	if natsURL == "" {
		return func() {}, nil
	}
	if user == "" {
		log.Printf("no stored user name; skipping NATS room list subscription")
		return func() {}, nil
	}

	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = natsURL
	natsConfig.Name = "groupchat-client"
	natsClient, err := messaging.Connect(natsConfig)
	if err != nil {
		return func() {}, err
	}
	if err := natsClient.SubscribeRoomList(user, update); err != nil {
		natsClient.Close()
		return func() {}, err
	}
	return natsClient.Close, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server error: %v", err)
	}
}
