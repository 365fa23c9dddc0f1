package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"pollchat/internal/domain"
)

// PermissionRepo answers relationship questions from the friendship and
// group membership tables maintained by the friend and group services.
type PermissionRepo struct {
	db DBTX
}

func NewPermissionRepo(db DBTX) *PermissionRepo {
	return &PermissionRepo{db: db}
}

var _ domain.Permissions = (*PermissionRepo)(nil)

func (r *PermissionRepo) CanMessage(ctx context.Context, senderID, receiverID int64) (bool, error) {
	if senderID == receiverID {
		return false, nil
	}
	var exists int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?
	`, senderID, receiverID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return true, nil
}

func (r *PermissionRepo) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?
	`, groupID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is group member: %w", err)
	}
	return true, nil
}

func (r *PermissionRepo) GroupMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
