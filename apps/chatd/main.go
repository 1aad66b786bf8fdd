// chatd is the chat service process: one websocket transport plus the
// REST fallback, composed over the durable store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/eventpulse/chat-service/pkg/auth"
	"github.com/eventpulse/chat-service/pkg/config"
	"github.com/eventpulse/chat-service/pkg/db"
	"github.com/eventpulse/chat-service/pkg/firehose"
	"github.com/eventpulse/chat-service/pkg/httpapi"
	"github.com/eventpulse/chat-service/pkg/hub"
	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/presence"
	"github.com/eventpulse/chat-service/pkg/router"
	"github.com/eventpulse/chat-service/pkg/snowflake"
	"github.com/eventpulse/chat-service/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Console)

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
	}

	fh := firehose.NewPublisher(cfg.KafkaBrokers(), cfg.Kafka.Topic)
	defer fh.Close()

	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, 24*time.Hour)
	gate := auth.NewGate(st, st, cfg.Auth.RequirePublicProfile)
	registry := hub.NewRegistry()
	typing := hub.NewTypingTracker(cfg.Chat.TypingTTL)
	pres := presence.NewTracker(registry, st, rdb)
	rt := router.New(st, gate, registry, typing, pres, fh, cfg.Chat.HistoryLimit, cfg.Chat.StoreTimeout)
	wsServer := hub.NewWSServer(authn, gate, rt)
	api := httpapi.New(st, authn, gate, pres, cfg.Chat.StoreTimeout)

	mux := chi.NewRouter()
	mux.Handle("/ws", wsServer)
	mux.Mount("/", api.Routes())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("chatd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}

// buildStore picks Scylla when hosts are configured, otherwise the
// in-memory store for local development.
func buildStore(cfg *config.Config) (store.Store, func(), error) {
	hosts := cfg.ScyllaHosts()
	if len(hosts) == 0 {
		log.Warn().Msg("no scylla hosts configured, using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	session, err := db.NewSession(hosts, cfg.Scylla.Keyspace)
	if err != nil {
		return nil, nil, err
	}
	ids, err := snowflake.NewNode(nodeID())
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return store.NewScyllaStore(session, ids), session.Close, nil
}

func nodeID() int64 {
	// Unique per instance in multi-node deployments; a single chatd
	// process is the reference deployment.
	if v := os.Getenv("CHAT_NODE_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id
		}
	}
	return 1
}
