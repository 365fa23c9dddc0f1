package sqlite

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
	m.CreatedAt = m.CreatedAt.UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO group_messages (sender_id, group_id, content, file_path, file_name, file_size, type, is_encrypted, client_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.SenderID,
		m.GroupID,
		m.Content,
		m.FilePath,
		m.FileName,
		m.FileSize,
		m.Type,
		m.IsEncrypted,
		m.ClientMsgID,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert group message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.ChatType = domain.ChatGroup
	m.Status = domain.StatusSent
	return nil
}

func (r *GroupMessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + groupMessageColumns + ` FROM group_messages WHERE id = ?`
	return r.scanOne(ctx, query, id)
}

func (r *GroupMessageRepo) FindByClientID(ctx context.Context, senderID int64, clientMsgID string) (*domain.Message, error) {
	query := `SELECT ` + groupMessageColumns + ` FROM group_messages WHERE sender_id = ? AND client_msg_id = ?`
	return r.scanOne(ctx, query, senderID, clientMsgID)
}

func (r *GroupMessageRepo) ListHistory(ctx context.Context, groupID int64, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+groupMessageColumns+`
		FROM group_messages
		WHERE group_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
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
		WHERE group_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, groupID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list group messages since: %w", err)
	}
	return scanGroupMessages(rows)
}

func (r *GroupMessageRepo) DeleteBySender(ctx context.Context, id, senderID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_messages WHERE id = ? AND sender_id = ?`, id, senderID)
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
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_messages WHERE file_path = ?`, path).Scan(&n); err != nil {
		return 0, fmt.Errorf("count group messages by file: %w", err)
	}
	return n, nil
}

func (r *GroupMessageRepo) scanOne(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	m := &domain.Message{ChatType: domain.ChatGroup, Status: domain.StatusSent}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&m.ID,
		&m.SenderID,
		&m.GroupID,
		&m.Content,
		&m.FilePath,
		&m.FileName,
		&m.FileSize,
		&m.Type,
		&m.IsEncrypted,
		&m.ClientMsgID,
		&m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan group message: %w", err)
	}
	return m, nil
}

func scanGroupMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{ChatType: domain.ChatGroup, Status: domain.StatusSent}
		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.GroupID,
			&m.Content,
			&m.FilePath,
			&m.FileName,
			&m.FileSize,
			&m.Type,
			&m.IsEncrypted,
			&m.ClientMsgID,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan group message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
