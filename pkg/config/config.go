// Package config loads service configuration from defaults overridden by
// CHAT_* environment variables (CHAT_SERVER_LISTEN_ADDR -> server.listen_addr).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  Server  `koanf:"server"`
	Scylla  Scylla  `koanf:"scylla"`
	Redis   Redis   `koanf:"redis"`
	Kafka   Kafka   `koanf:"kafka"`
	Auth    Auth    `koanf:"auth"`
	Chat    Chat    `koanf:"chat"`
	Logging Logging `koanf:"logging"`
}

type Server struct {
	ListenAddr string `koanf:"listen_addr" validate:"required"`
}

type Scylla struct {
	// Comma-separated host list. Empty selects the in-memory store
	// (development and tests only).
	Hosts    string `koanf:"hosts"`
	Keyspace string `koanf:"keyspace" validate:"required"`
}

type Redis struct {
	// Empty disables the presence mirror.
	Addr string `koanf:"addr"`
}

type Kafka struct {
	// Empty disables the committed-message firehose.
	Brokers string `koanf:"brokers"`
	Topic   string `koanf:"topic" validate:"required"`
	GroupID string `koanf:"group_id"`
}

type Auth struct {
	JWTSecret            string `koanf:"jwt_secret" validate:"required,min=16"`
	RequirePublicProfile bool   `koanf:"require_public_profile"`
}

type Chat struct {
	HistoryLimit int           `koanf:"history_limit" validate:"gt=0,lte=500"`
	TypingTTL    time.Duration `koanf:"typing_ttl" validate:"gt=0"`
	StoreTimeout time.Duration `koanf:"store_timeout" validate:"gt=0"`
}

type Logging struct {
	Level   string `koanf:"level"`
	Console bool   `koanf:"console"`
}

func defaults() Config {
	return Config{
		Server:  Server{ListenAddr: ":8080"},
		Scylla:  Scylla{Hosts: "localhost:9042", Keyspace: "chat"},
		Redis:   Redis{Addr: "localhost:6379"},
		Kafka:   Kafka{Topic: "chat-messages", GroupID: "chat-archiver"},
		Auth:    Auth{JWTSecret: "change-me-before-deploy", RequirePublicProfile: false},
		Chat:    Chat{HistoryLimit: 50, TypingTTL: 3 * time.Second, StoreTimeout: 10 * time.Second},
		Logging: Logging{Level: "info", Console: false},
	}
}

// Load builds the effective configuration and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	err := k.Load(env.Provider("CHAT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHAT_")), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// ScyllaHosts splits the configured host list.
func (c *Config) ScyllaHosts() []string {
	return splitList(c.Scylla.Hosts)
}

// KafkaBrokers splits the configured broker list.
func (c *Config) KafkaBrokers() []string {
	return splitList(c.Kafka.Brokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
