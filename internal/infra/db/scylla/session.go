package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"chatline/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Session wraps a keyspace-bound gocql session.
type Session struct {
	*gocql.Session
	keyspace string
}

// NewSession ensures the keyspace and message tables exist and returns a
// session bound to the keyspace.
func NewSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("scylla: invalid keyspace name %q", cfg.ScyllaKeyspace)
	}

	base, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: connect: %w", err)
	}
	err = ensureKeyspace(ctx, base, cfg)
	base.Close()
	if err != nil {
		return nil, err
	}

	session, err := newCluster(cfg, cfg.ScyllaKeyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return &Session{Session: session, keyspace: cfg.ScyllaKeyspace}, nil
}

func newCluster(cfg config.Config, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Consistency = cfg.ScyllaConsistency
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Keyspace = keyspace
	if cfg.ScyllaUsername != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.ScyllaUsername,
			Password: cfg.ScyllaPassword,
		}
	}
	return cluster
}

// Ping runs a trivial query for readiness probes.
func (s *Session) Ping(ctx context.Context) error {
	return s.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
}

// Close releases every connection. The context is accepted to match the
// other store closers.
func (s *Session) Close(context.Context) error {
	s.Session.Close()
	return nil
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, cfg.ScyllaReplication,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("scylla: create keyspace: %w", err)
	}
	return nil
}

// Messages are partitioned by conversation and clustered newest first so a
// history page is a single partition slice. The side tables hold the parts
// of a message that change independently of its body.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
	conversation_id text,
	created_at timestamp,
	message_id text,
	sender_id text,
	content_kind text,
	content blob,
	updated_at timestamp,
	deleted boolean,
	deleted_by text,
	deleted_at timestamp,
	PRIMARY KEY ((conversation_id), created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`,
	`CREATE TABLE IF NOT EXISTS messages_by_id (
	message_id text PRIMARY KEY,
	conversation_id text,
	created_at timestamp
)`,
	`CREATE TABLE IF NOT EXISTS message_receipts (
	message_id text,
	user_id text,
	read_at timestamp,
	PRIMARY KEY ((message_id), user_id)
)`,
	`CREATE TABLE IF NOT EXISTS message_reactions (
	message_id text,
	user_id text,
	emoji text,
	reacted_at timestamp,
	PRIMARY KEY ((message_id), user_id)
)`,
	`CREATE TABLE IF NOT EXISTS message_revisions (
	message_id text,
	edited_at timestamp,
	content_kind text,
	content blob,
	PRIMARY KEY ((message_id), edited_at)
) WITH CLUSTERING ORDER BY (edited_at ASC)`,
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, stmt := range schema {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("scylla: create table: %w", err)
		}
	}
	return nil
}
