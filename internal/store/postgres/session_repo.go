package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pollchat/internal/domain"
)

type SessionRepo struct {
	db  DBTX
	now func() time.Time
}

func NewSessionRepo(db DBTX, now func() time.Time) *SessionRepo {
	return &SessionRepo{db: db, now: now}
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

func (r *SessionRepo) Upsert(ctx context.Context, ownerID, peerID, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, friend_id, last_message_id, unread_count, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (user_id, friend_id) DO UPDATE SET
			unread_count = sessions.unread_count + 1,
			last_message_id = EXCLUDED.last_message_id,
			updated_at = EXCLUDED.updated_at
	`, ownerID, peerID, messageID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	return r.scanSession(ctx, `
		SELECT id, user_id, friend_id, last_message_id, unread_count, updated_at
		FROM sessions WHERE id = $1
	`, id)
}

func (r *SessionRepo) Get(ctx context.Context, ownerID, peerID int64) (*domain.Session, error) {
	return r.scanSession(ctx, `
		SELECT id, user_id, friend_id, last_message_id, unread_count, updated_at
		FROM sessions WHERE user_id = $1 AND friend_id = $2
	`, ownerID, peerID)
}

func (r *SessionRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.SessionSummary, error) {
	query := `
		SELECT s.id, s.friend_id,
		       COALESCE(NULLIF(u.display_name, ''), u.username, ''),
		       COALESCE(u.is_online, FALSE),
		       s.unread_count, s.updated_at,
		       m.id, m.sender_id, m.type, m.content, m.file_name, m.is_encrypted
		FROM (
			SELECT ss.*, (
				SELECT MAX(o.id) FROM messages o
				WHERE o.sender_id = ss.user_id AND o.receiver_id = ss.friend_id
			) AS last_sent_id
			FROM sessions ss
			WHERE ss.user_id = $1
		) s
		LEFT JOIN users u ON u.id = s.friend_id
		LEFT JOIN messages m ON m.id = GREATEST(s.last_sent_id, s.last_message_id)
		ORDER BY s.updated_at DESC, s.last_message_id DESC NULLS LAST
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var res []*domain.SessionSummary
	for rows.Next() {
		s := &domain.SessionSummary{}
		var p previewRow
		if err := rows.Scan(
			&s.SessionID,
			&s.PeerID,
			&s.DisplayName,
			&s.PeerOnline,
			&s.UnreadCount,
			&s.UpdatedAt,
			&p.id, &p.senderID, &p.typ, &p.content, &p.fileName, &p.encrypted,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Preview = p.toPreview()
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *SessionRepo) ListGroupsForUser(ctx context.Context, userID int64) ([]*domain.GroupSummary, error) {
	query := `
		SELECT g.id, g.name, COALESCE(um.count, 0),
		       m.id, m.sender_id, m.type, m.content, m.file_name, m.is_encrypted, m.created_at
		FROM group_members gm
		JOIN chat_groups g ON g.id = gm.group_id
		LEFT JOIN unread_messages um
		       ON um.user_id = gm.user_id AND um.chat_type = 'group' AND um.chat_id = gm.group_id
		LEFT JOIN group_messages m
		       ON m.id = (SELECT MAX(gmx.id) FROM group_messages gmx WHERE gmx.group_id = gm.group_id)
		WHERE gm.user_id = $1
		ORDER BY m.id DESC NULLS LAST, g.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list group summaries: %w", err)
	}
	defer rows.Close()

	var res []*domain.GroupSummary
	for rows.Next() {
		g := &domain.GroupSummary{}
		var p previewRow
		var lastAt sql.NullTime
		if err := rows.Scan(
			&g.GroupID,
			&g.Name,
			&g.UnreadCount,
			&p.id, &p.senderID, &p.typ, &p.content, &p.fileName, &p.encrypted,
			&lastAt,
		); err != nil {
			return nil, fmt.Errorf("scan group summary: %w", err)
		}
		g.Preview = p.toPreview()
		if lastAt.Valid {
			t := lastAt.Time
			g.UpdatedAt = &t
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r *SessionRepo) ClearUnread(ctx context.Context, sessionID int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET unread_count = 0 WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear session unread: %w", err)
	}
	return nil
}

func (r *SessionRepo) ClearUnreadForPeer(ctx context.Context, ownerID, peerID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET unread_count = 0 WHERE user_id = $1 AND friend_id = $2
	`, ownerID, peerID)
	if err != nil {
		return fmt.Errorf("clear session unread: %w", err)
	}
	return nil
}

func (r *SessionRepo) scanSession(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	s := &domain.Session{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID,
		&s.UserID,
		&s.FriendID,
		&s.LastMessageID,
		&s.UnreadCount,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

type previewRow struct {
	id        sql.NullInt64
	senderID  sql.NullInt64
	typ       sql.NullString
	content   *string
	fileName  *string
	encrypted sql.NullBool
}

func (p previewRow) toPreview() *domain.Preview {
	if !p.id.Valid {
		return nil
	}
	return &domain.Preview{
		MessageID: p.id.Int64,
		SenderID:  p.senderID.Int64,
		Type:      domain.MessageType(p.typ.String),
		Content:   p.content,
		FileName:  p.fileName,
		Encrypted: p.encrypted.Bool,
	}
}
