package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pollchat/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across every query.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Migrate creates the messaging schema. Every statement is idempotent so it
// is safe to run on each start.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			is_online BOOLEAN NOT NULL DEFAULT 0,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_id INTEGER NOT NULL,
			friend_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			id INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY (group_id) REFERENCES chat_groups(id)
		);`,
		// AUTOINCREMENT keeps ids from being reused after a recall deletes the newest row.
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			content TEXT DEFAULT NULL,
			file_path TEXT DEFAULT NULL,
			file_name TEXT DEFAULT NULL,
			file_size INTEGER DEFAULT NULL,
			type TEXT NOT NULL CHECK (type IN ('text', 'file')),
			status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'read')),
			is_encrypted BOOLEAN NOT NULL DEFAULT 0,
			client_msg_id TEXT DEFAULT NULL,
			created_at DATETIME NOT NULL,
			CHECK ((content IS NULL) <> (file_path IS NULL))
		);`,
		`CREATE TABLE IF NOT EXISTS group_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			group_id INTEGER NOT NULL,
			content TEXT DEFAULT NULL,
			file_path TEXT DEFAULT NULL,
			file_name TEXT DEFAULT NULL,
			file_size INTEGER DEFAULT NULL,
			type TEXT NOT NULL CHECK (type IN ('text', 'file')),
			is_encrypted BOOLEAN NOT NULL DEFAULT 0,
			client_msg_id TEXT DEFAULT NULL,
			created_at DATETIME NOT NULL,
			CHECK ((content IS NULL) <> (file_path IS NULL))
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			friend_id INTEGER NOT NULL,
			last_message_id INTEGER DEFAULT NULL,
			unread_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
			updated_at DATETIME NOT NULL,
			UNIQUE (user_id, friend_id)
		);`,
		`CREATE TABLE IF NOT EXISTS unread_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			chat_type TEXT NOT NULL CHECK (chat_type IN ('friend', 'group')),
			chat_id INTEGER NOT NULL,
			count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
			last_message_id INTEGER DEFAULT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (user_id, chat_type, chat_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_status ON messages(receiver_id, status);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id ON messages(sender_id, client_msg_id);`,
		`CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages(group_id, id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_messages_client_id ON group_messages(sender_id, client_msg_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_updated ON sessions(user_id, updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_file_path ON messages(file_path);`,
		`CREATE INDEX IF NOT EXISTS idx_group_messages_file_path ON group_messages(file_path);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Store implements domain.Store on top of SQLite.
type Store struct {
	db  *sql.DB
	q   DBTX
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for updated_at columns.
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

// WithinTx runs fn against a Store bound to a single transaction. The
// transaction is committed only when fn returns nil.
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
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// scanTime reads a DATETIME value that may reach the driver without its
// declared column type, e.g. from a derived table.
type scanTime struct {
	Time  time.Time
	Valid bool
}

func (s *scanTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		s.Time, s.Valid = time.Time{}, false
		return nil
	case time.Time:
		s.Time, s.Valid = x, true
		return nil
	case []byte:
		return s.parse(string(x))
	case string:
		return s.parse(x)
	case int64:
		s.Time, s.Valid = time.Unix(x, 0).UTC(), true
		return nil
	}
	return fmt.Errorf("unsupported time value %T", v)
}

func (s *scanTime) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			s.Time, s.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("parse time %q", v)
}
