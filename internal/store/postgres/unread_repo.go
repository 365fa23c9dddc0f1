package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pollchat/internal/domain"
)

type UnreadRepo struct {
	db  DBTX
	now func() time.Time
}

func NewUnreadRepo(db DBTX, now func() time.Time) *UnreadRepo {
	return &UnreadRepo{db: db, now: now}
}

var _ domain.UnreadRepository = (*UnreadRepo)(nil)

func (r *UnreadRepo) Increment(ctx context.Context, userID int64, chatType domain.ChatType, chatID, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unread_messages (user_id, chat_type, chat_id, count, last_message_id, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (user_id, chat_type, chat_id) DO UPDATE SET
			count = unread_messages.count + 1,
			last_message_id = EXCLUDED.last_message_id,
			updated_at = EXCLUDED.updated_at
	`, userID, string(chatType), chatID, messageID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

func (r *UnreadRepo) Reset(ctx context.Context, userID int64, chatType domain.ChatType, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE unread_messages SET count = 0, updated_at = $1
		WHERE user_id = $2 AND chat_type = $3 AND chat_id = $4
	`, r.now().UTC(), userID, string(chatType), chatID)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func (r *UnreadRepo) Get(ctx context.Context, userID int64, chatType domain.ChatType, chatID int64) (*domain.UnreadCounter, error) {
	c := &domain.UnreadCounter{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, chat_type, chat_id, count, last_message_id, updated_at
		FROM unread_messages
		WHERE user_id = $1 AND chat_type = $2 AND chat_id = $3
	`, userID, string(chatType), chatID).Scan(
		&c.UserID, &c.ChatType, &c.ChatID, &c.Count, &c.LastMessageID, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unread: %w", err)
	}
	return c, nil
}

func (r *UnreadRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.UnreadCounter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, chat_type, chat_id, count, last_message_id, updated_at
		FROM unread_messages
		WHERE user_id = $1 AND count > 0
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()

	var res []*domain.UnreadCounter
	for rows.Next() {
		c := &domain.UnreadCounter{}
		if err := rows.Scan(&c.UserID, &c.ChatType, &c.ChatID, &c.Count, &c.LastMessageID, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan unread: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
