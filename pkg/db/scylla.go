// Package db holds the ScyllaDB session helper shared by the server,
// the archiver, and the schema script.
package db

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog/log"
)

type Session struct {
	*gocql.Session
}

// NewSession connects to the cluster with quorum consistency and a bounded
// exponential retry policy.
func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Msg("connected to scylla")
	return &Session{Session: session}, nil
}
