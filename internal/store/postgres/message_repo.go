package postgres

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
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages
			(sender_id, receiver_id, content, file_path, file_name, file_size, type, status, is_encrypted, client_msg_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, m.SenderID, m.ReceiverID, m.Content, m.FilePath, m.FileName, m.FileSize,
		string(m.Type), string(m.Status), m.IsEncrypted, m.ClientMsgID, m.CreatedAt.UTC(),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.ChatType = domain.ChatFriend
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return firstMessage(scanMessages(rows))
}

func (r *MessageRepo) FindByClientID(ctx context.Context, senderID int64, clientMsgID string) (*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE sender_id = $1 AND client_msg_id = $2
	`, senderID, clientMsgID)
	if err != nil {
		return nil, fmt.Errorf("find message by client id: %w", err)
	}
	return firstMessage(scanMessages(rows))
}

func (r *MessageRepo) ListBetween(ctx context.Context, a, b int64, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, a, b, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) ListSince(ctx context.Context, a, b, afterID int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND id > $3
		ORDER BY id ASC
		LIMIT $4
	`, a, b, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages since: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) MarkRead(ctx context.Context, receiverID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'read' WHERE receiver_id = $1 AND id = ANY($2)
	`, receiverID, ids)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkReadFrom(ctx context.Context, receiverID, senderID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'read'
		WHERE receiver_id = $1 AND sender_id = $2 AND status <> 'read'
	`, receiverID, senderID)
	if err != nil {
		return fmt.Errorf("mark read from sender: %w", err)
	}
	return nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, receiverID int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND status <> 'read'
	`, receiverID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) DeleteBySender(ctx context.Context, id, senderID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, id, senderID)
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
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE file_path = $1`, path).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages by file: %w", err)
	}
	return n, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{ChatType: domain.ChatFriend}
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.FilePath, &m.FileName, &m.FileSize,
			&m.Type, &m.Status, &m.IsEncrypted, &m.ClientMsgID, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func firstMessage(msgs []*domain.Message, err error) (*domain.Message, error) {
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}
