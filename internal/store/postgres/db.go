package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pollchat/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the messaging schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id           BIGSERIAL    PRIMARY KEY,
			username     VARCHAR(50)  UNIQUE NOT NULL,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			is_online    BOOLEAN      NOT NULL DEFAULT FALSE,
			last_seen    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS friendships (
			user_id   BIGINT NOT NULL,
			friend_id BIGINT NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		)`,

		`CREATE TABLE IF NOT EXISTS chat_groups (
			id   BIGSERIAL    PRIMARY KEY,
			name VARCHAR(100) NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id BIGINT NOT NULL REFERENCES chat_groups(id),
			user_id  BIGINT NOT NULL,
			PRIMARY KEY (group_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id            BIGSERIAL   PRIMARY KEY,
			sender_id     BIGINT      NOT NULL,
			receiver_id   BIGINT      NOT NULL,
			content       TEXT,
			file_path     TEXT,
			file_name     TEXT,
			file_size     BIGINT,
			type          TEXT        NOT NULL CHECK (type IN ('text', 'file')),
			status        TEXT        NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'read')),
			is_encrypted  BOOLEAN     NOT NULL DEFAULT FALSE,
			client_msg_id TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK ((content IS NULL) <> (file_path IS NULL))
		)`,

		`CREATE TABLE IF NOT EXISTS group_messages (
			id            BIGSERIAL   PRIMARY KEY,
			sender_id     BIGINT      NOT NULL,
			group_id      BIGINT      NOT NULL,
			content       TEXT,
			file_path     TEXT,
			file_name     TEXT,
			file_size     BIGINT,
			type          TEXT        NOT NULL CHECK (type IN ('text', 'file')),
			is_encrypted  BOOLEAN     NOT NULL DEFAULT FALSE,
			client_msg_id TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK ((content IS NULL) <> (file_path IS NULL))
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id              BIGSERIAL   PRIMARY KEY,
			user_id         BIGINT      NOT NULL,
			friend_id       BIGINT      NOT NULL,
			last_message_id BIGINT,
			unread_count    INTEGER     NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, friend_id)
		)`,

		`CREATE TABLE IF NOT EXISTS unread_messages (
			id              BIGSERIAL   PRIMARY KEY,
			user_id         BIGINT      NOT NULL,
			chat_type       TEXT        NOT NULL CHECK (chat_type IN ('friend', 'group')),
			chat_id         BIGINT      NOT NULL,
			count           INTEGER     NOT NULL DEFAULT 0 CHECK (count >= 0),
			last_message_id BIGINT,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, chat_type, chat_id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages(receiver_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id ON messages(sender_id, client_msg_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages(group_id, id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_messages_client_id ON group_messages(sender_id, client_msg_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_updated ON sessions(user_id, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_file_path ON messages(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_group_messages_file_path ON group_messages(file_path)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// Store implements domain.Store on top of PostgreSQL.
type Store struct {
	db  *sql.DB
	q   DBTX
	now func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, q: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.Store = (*Store)(nil)

func (s *Store) Users() domain.UserRepository { return NewUserRepo(s.q) }
func (s *Store) Messages() domain.MessageRepository {
	return NewMessageRepo(s.q, s.now)
}
func (s *Store) GroupMessages() domain.GroupMessageRepository {
	return NewGroupMessageRepo(s.q, s.now)
}
func (s *Store) Sessions() domain.SessionRepository {
	return NewSessionRepo(s.q, s.now)
}
func (s *Store) Unread() domain.UnreadRepository {
	return NewUnreadRepo(s.q, s.now)
}

// WithinTx runs fn inside one transaction; row-level locks taken by the
// upserts are held until commit.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
