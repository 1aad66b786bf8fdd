// archiver consumes the committed-message firehose and writes audit
// copies to the message_archive table. It runs beside chatd and is
// entirely optional; nothing in the request path depends on it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/eventpulse/chat-service/pkg/config"
	"github.com/eventpulse/chat-service/pkg/db"
	"github.com/eventpulse/chat-service/pkg/firehose"
	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/snowflake"
	"github.com/eventpulse/chat-service/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Console)

	brokers := cfg.KafkaBrokers()
	if len(brokers) == 0 {
		log.Fatal().Msg("archiver requires CHAT_KAFKA_BROKERS")
	}
	hosts := cfg.ScyllaHosts()
	if len(hosts) == 0 {
		log.Fatal().Msg("archiver requires CHAT_SCYLLA_HOSTS")
	}

	session, err := db.NewSession(hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("scylla connect failed")
	}
	defer session.Close()

	ids, err := snowflake.NewNode(2)
	if err != nil {
		log.Fatal().Err(err).Msg("snowflake init failed")
	}

	reader := firehose.NewReader(brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	archiver := NewArchiver(reader, store.NewScyllaStore(session, ids))
	log.Info().Str("topic", cfg.Kafka.Topic).Str("group", cfg.Kafka.GroupID).Msg("archiver consuming")
	archiver.Run(ctx)
}
