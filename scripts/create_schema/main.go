// create_schema bootstraps the chat keyspace and tables. Production
// deployments run migrations instead; this covers dev environments.
package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/eventpulse/chat-service/pkg/db"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		display_name text,
		avatar_ref text,
		profile_public boolean
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		event_ref text,
		created_at timestamp,
		last_activity timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id text,
		user_id text,
		is_active boolean,
		last_read_at timestamp,
		joined_at timestamp,
		PRIMARY KEY (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS participant_conversations (
		user_id text,
		conversation_id text,
		is_active boolean,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		created_at timestamp,
		id bigint,
		sender_id text,
		content text,
		is_deleted boolean,
		PRIMARY KEY (conversation_id, created_at, id)
	) WITH CLUSTERING ORDER BY (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS messages_by_id (
		id bigint PRIMARY KEY,
		conversation_id text,
		created_at timestamp,
		sender_id text,
		is_deleted boolean
	)`,
	`CREATE TABLE IF NOT EXISTS message_archive (
		conversation_id text,
		created_at timestamp,
		id bigint,
		sender_id text,
		content text,
		PRIMARY KEY (conversation_id, created_at, id)
	) WITH CLUSTERING ORDER BY (created_at DESC, id DESC)`,
}

func main() {
	hostsStr := os.Getenv("CHAT_SCYLLA_HOSTS")
	if hostsStr == "" {
		hostsStr = "localhost:9042"
	}
	hosts := strings.Split(hostsStr, ",")

	keyspace := os.Getenv("CHAT_SCYLLA_KEYSPACE")
	if keyspace == "" {
		keyspace = "chat"
	}

	sys, err := db.NewSession(hosts, "system")
	if err != nil {
		log.Fatal().Err(err).Msg("connect to system keyspace failed")
	}
	err = sys.Query(`CREATE KEYSPACE IF NOT EXISTS ` + keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	sys.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("create keyspace failed")
	}

	session, err := db.NewSession(hosts, keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer session.Close()

	for _, stmt := range ddl {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatal().Err(err).Str("stmt", stmt).Msg("ddl failed")
		}
	}
	log.Info().Str("keyspace", keyspace).Int("tables", len(ddl)).Msg("schema ready")
}
