package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pollchat/internal/domain"
)

const groupMessageColumns = `id, sender_id, group_id, content, file_path, file_name, file_size, type, is_encrypted, client_msg_id, created_at`

type GroupMessageRepo struct {
	db  DBTX
	now func() time.Time
}

func NewGroupMessageRepo(db DBTX, now func() time.Time) *GroupMessageRepo {
	return &GroupMessageRepo{db: db, now: now}
}

var _ domain.GroupMessageRepository = (*GroupMessageRepo)(nil)

func (r *GroupMessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO group_messages
			(sender_id, group_id, content, file_path, file_name, file_size, type, is_encrypted, client_msg_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, m.SenderID, m.GroupID, m.Content, m.FilePath, m.FileName, m.FileSize,
		string(m.Type), m.IsEncrypted, m.ClientMsgID, m.CreatedAt.UTC(),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert group message: %w", err)
	}
	m.ChatType = domain.ChatGroup
	m.Status = domain.StatusSent
	return nil
}

func (r *GroupMessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+groupMessageColumns+` FROM group_messages WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get group message: %w", err)
	}
	return firstMessage(scanGroupMessages(rows))
}

func (r *GroupMessageRepo) FindByClientID(ctx context.Context, senderID int64, clientMsgID string) (*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+groupMessageColumns+` FROM group_messages WHERE sender_id = $1 AND client_msg_id = $2
	`, senderID, clientMsgID)
	if err != nil {
		return nil, fmt.Errorf("find group message by client id: %w", err)
	}
	return firstMessage(scanGroupMessages(rows))
}

func (r *GroupMessageRepo) ListHistory(ctx context.Context, groupID int64, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+groupMessageColumns+`
		FROM group_messages
		WHERE group_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	return scanGroupMessages(rows)
}

func (r *GroupMessageRepo) ListSince(ctx context.Context, groupID, afterID int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+groupMessageColumns+`
		FROM group_messages
		WHERE group_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, groupID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list group messages since: %w", err)
	}
	return scanGroupMessages(rows)
}

func (r *GroupMessageRepo) DeleteBySender(ctx context.Context, id, senderID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_messages WHERE id = $1 AND sender_id = $2`, id, senderID)
	if err != nil {
		return false, fmt.Errorf("delete group message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *GroupMessageRepo) CountByFilePath(ctx context.Context, path string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_messages WHERE file_path = $1`, path).Scan(&n); err != nil {
		return 0, fmt.Errorf("count group messages by file: %w", err)
	}
	return n, nil
}

func scanGroupMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{ChatType: domain.ChatGroup, Status: domain.StatusSent}
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.GroupID, &m.Content, &m.FilePath, &m.FileName, &m.FileSize,
			&m.Type, &m.IsEncrypted, &m.ClientMsgID, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan group message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
