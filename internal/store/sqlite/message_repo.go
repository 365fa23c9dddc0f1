package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pollchat/internal/domain"
)

const messageColumns = `id, sender_id, receiver_id, content, file_path, file_name, file_size, type, status, is_encrypted, client_msg_id, created_at`

type MessageRepo struct {
	db  DBTX
	now func() time.Time
}

func NewMessageRepo(db DBTX, now func() time.Time) *MessageRepo {
	return &MessageRepo{db: db, now: now}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, file_path, file_name, file_size, type, status, is_encrypted, client_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.SenderID,
		m.ReceiverID,
		m.Content,
		m.FilePath,
		m.FileName,
		m.FileSize,
		m.Type,
		m.Status,
		m.IsEncrypted,
		m.ClientMsgID,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.ChatType = domain.ChatFriend
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	return r.scanOne(ctx, query, id)
}

func (r *MessageRepo) FindByClientID(ctx context.Context, senderID int64, clientMsgID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE sender_id = ? AND client_msg_id = ?`
	return r.scanOne(ctx, query, senderID, clientMsgID)
}

func (r *MessageRepo) ListBetween(ctx context.Context, a, b int64, limit, offset int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, a, b, b, a, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) ListSince(ctx context.Context, a, b, afterID int64, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, a, b, b, a, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages since: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) MarkRead(ctx context.Context, receiverID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE messages SET status = 'read' WHERE receiver_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, receiverID)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkReadFrom(ctx context.Context, receiverID, senderID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'read'
		WHERE receiver_id = ? AND sender_id = ? AND status <> 'read'
	`, receiverID, senderID)
	if err != nil {
		return fmt.Errorf("mark read from sender: %w", err)
	}
	return nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, receiverID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND status <> 'read'
	`, receiverID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) DeleteBySender(ctx context.Context, id, senderID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND sender_id = ?`, id, senderID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *MessageRepo) CountByFilePath(ctx context.Context, path string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE file_path = ?`, path).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages by file: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) scanOne(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	m := &domain.Message{ChatType: domain.ChatFriend}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&m.ID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&m.FilePath,
		&m.FileName,
		&m.FileSize,
		&m.Type,
		&m.Status,
		&m.IsEncrypted,
		&m.ClientMsgID,
		&m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{ChatType: domain.ChatFriend}
		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Content,
			&m.FilePath,
			&m.FileName,
			&m.FileSize,
			&m.Type,
			&m.Status,
			&m.IsEncrypted,
			&m.ClientMsgID,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
