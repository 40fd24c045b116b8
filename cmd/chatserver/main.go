package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/strangr/chat-server/internal/admin"
	"github.com/strangr/chat-server/internal/archive"
	"github.com/strangr/chat-server/internal/core"
	"github.com/strangr/chat-server/internal/messaging"
	"github.com/strangr/chat-server/internal/metrics"
	"github.com/strangr/chat-server/internal/protocol"
	"github.com/strangr/chat-server/internal/ratelimit"
	"github.com/strangr/chat-server/internal/stats"
	"github.com/strangr/chat-server/internal/ws"
)

// adminPublishInterval is how often stats and connection snapshots are
// pushed to NATS for admin consumers.
const adminPublishInterval = 5 * time.Second

func main() {
	_ = godotenv.Load()

	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS (optional) ---
	var publisher *messaging.Publisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		var err error
		publisher, err = messaging.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Redis rate limiting (optional) ---
	var limiter *ratelimit.Limiter
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb)
	}

	// --- Postgres session archive (optional) ---
	var sessionArchive *archive.Store
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		var err error
		sessionArchive, err = archive.Open(dsn)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		if err := sessionArchive.Migrate(); err != nil {
			log.Fatalf("failed to run archive migrations: %v", err)
		}
	}

	adminToken := os.Getenv("ADMIN_TOKEN")

	log.Printf("chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats:            %v", publisher != nil)
	log.Printf("  ratelimit:       %v", limiter != nil)
	log.Printf("  archive:         %v", sessionArchive != nil)
	log.Printf("  admin_api:       %v", adminToken != "")

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(config, dispatcher.Dispatch)

	recorder := stats.NewRecorder()
	hub := core.NewHub(ws.NewNotifier(server), recorder)
	hub.SetConnCloser(server.Kick)
	if publisher != nil {
		hub.AddEventSink(publisher)
	}
	if sessionArchive != nil {
		hub.AddEventSink(sessionArchive)
	}

	server.SetOnConnect(hub.Register)
	server.SetOnDisconnect(hub.HandleTermination)

	sendError := func(conn *ws.Connection, code, message string) {
		data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: code, Message: message,
		})
		if err == nil {
			_ = conn.WriteMessage(data)
		}
	}

	// -----------------------------------------------------------------------
	// find_match — pair with a waiting stranger or join the queue
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeFindMatch, func(conn *ws.Connection, msg interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if !limiter.Allow(ctx, conn.ID, ratelimit.RuleMatch) {
			data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMatch.Window / time.Second),
			})
			if err == nil {
				_ = conn.WriteMessage(data)
			}
			return
		}
		hub.RequestMatch(conn.ID)
	})

	// -----------------------------------------------------------------------
	// cancel_search — leave the waiting queue
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCancelSearch, func(conn *ws.Connection, msg interface{}) {
		hub.CancelSearch(conn.ID)
		log.Printf("cancel_search from %s", conn.ID)
	})

	// -----------------------------------------------------------------------
	// message — relay to partner, acknowledge delivery
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}

		if err := protocol.ValidateText(chatMsg.Text); err != nil {
			sendError(conn, "invalid_message", err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if !limiter.Allow(ctx, conn.ID, ratelimit.RuleMessage) {
			data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMessage.Window / time.Second),
			})
			if err == nil {
				_ = conn.WriteMessage(data)
			}
			return
		}

		delivered := hub.RelayMessage(conn.ID, chatMsg.Text)
		ack, err := protocol.NewServerMessage(protocol.TypeAck, protocol.AckMsg{
			MessageID: chatMsg.MessageID,
			Delivered: delivered,
		})
		if err == nil {
			_ = conn.WriteMessage(ack)
		}
	})

	// -----------------------------------------------------------------------
	// typing / stop_typing — fire-and-forget partner signals
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		hub.RelayTyping(conn.ID)
	})
	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}) {
		hub.RelayStopTyping(conn.ID)
	})

	// -----------------------------------------------------------------------
	// end_chat — tear down the session, stay connected as a fresh idle entry
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeEndChat, func(conn *ws.Connection, msg interface{}) {
		hub.HandleTermination(conn.ID)
		if err := hub.Register(conn.ID); err != nil {
			log.Printf("end_chat re-register %s: %v", conn.ID, err)
		}
		log.Printf("end_chat from %s", conn.ID)
	})

	// -----------------------------------------------------------------------
	// set_nickname / request_nickname — display names, relayed only
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSetNickname, func(conn *ws.Connection, msg interface{}) {
		nickMsg, ok := msg.(protocol.SetNicknameMsg)
		if !ok || nickMsg.Nickname == "" {
			return
		}
		hub.RelayNickname(conn.ID, nickMsg.Nickname)
	})
	dispatcher.Register(protocol.TypeRequestNickname, func(conn *ws.Connection, msg interface{}) {
		name := "User-" + uuid.New().String()[:4]
		data, err := protocol.NewServerMessage(protocol.TypeStrangerNickname, protocol.StrangerNicknameMsg{
			Nickname: name,
		})
		if err == nil {
			_ = conn.WriteMessage(data)
		}
	})

	// Admin API and Prometheus metrics share the main listener.
	adminHandler := admin.NewHandler(hub, recorder, adminToken)
	server.HandleHTTP("/admin/", adminHandler.Routes())
	server.HandleHTTP("/metrics", metrics.Handler())

	// Background loops: midnight counter reset and admin fan-out.
	loopCtx, loopCancel := context.WithCancel(context.Background())
	stats.StartDailyReset(loopCtx, recorder)
	if publisher != nil {
		go func() {
			ticker := time.NewTicker(adminPublishInterval)
			defer ticker.Stop()
			for {
				select {
				case <-loopCtx.Done():
					return
				case <-ticker.C:
					publisher.PublishStats(recorder.Snapshot())
					publisher.PublishConnections(hub.ListConnections())
				}
			}
		}()
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		loopCancel()
		publisher.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionArchive.Close(); err != nil {
			log.Printf("archive close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
