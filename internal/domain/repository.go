package domain

import (
	"context"
)

// UserRepository reads the account records owned by the user service.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error
}

// MessageRepository persists 1:1 messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	FindByClientID(ctx context.Context, senderID int64, clientMsgID string) (*Message, error)
	// ListBetween returns messages exchanged by a and b, newest first.
	ListBetween(ctx context.Context, a, b int64, limit, offset int) ([]*Message, error)
	// ListSince returns messages exchanged by a and b with id > afterID, oldest first.
	ListSince(ctx context.Context, a, b, afterID int64, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, receiverID int64, ids []int64) error
	MarkReadFrom(ctx context.Context, receiverID, senderID int64) error
	CountUnread(ctx context.Context, receiverID int64) (int, error)
	// DeleteBySender removes the message only if senderID sent it.
	DeleteBySender(ctx context.Context, id, senderID int64) (bool, error)
	// CountByFilePath reports how many messages still attach the stored file.
	CountByFilePath(ctx context.Context, path string) (int, error)
}

// GroupMessageRepository persists group messages in their own table.
type GroupMessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	FindByClientID(ctx context.Context, senderID int64, clientMsgID string) (*Message, error)
	ListHistory(ctx context.Context, groupID int64, limit, offset int) ([]*Message, error)
	ListSince(ctx context.Context, groupID, afterID int64, limit int) ([]*Message, error)
	DeleteBySender(ctx context.Context, id, senderID int64) (bool, error)
	CountByFilePath(ctx context.Context, path string) (int, error)
}

// SessionRepository is the receiver-side conversation index for 1:1 chats.
type SessionRepository interface {
	Upsert(ctx context.Context, ownerID, peerID, messageID int64) error
	GetByID(ctx context.Context, id int64) (*Session, error)
	Get(ctx context.Context, ownerID, peerID int64) (*Session, error)
	ListForUser(ctx context.Context, userID int64) ([]*SessionSummary, error)
	ListGroupsForUser(ctx context.Context, userID int64) ([]*GroupSummary, error)
	ClearUnread(ctx context.Context, sessionID int64) error
	ClearUnreadForPeer(ctx context.Context, ownerID, peerID int64) error
}

// UnreadRepository is the unified unread counter for friend and group chats.
type UnreadRepository interface {
	Increment(ctx context.Context, userID int64, chatType ChatType, chatID, messageID int64) error
	Reset(ctx context.Context, userID int64, chatType ChatType, chatID int64) error
	Get(ctx context.Context, userID int64, chatType ChatType, chatID int64) (*UnreadCounter, error)
	ListForUser(ctx context.Context, userID int64) ([]*UnreadCounter, error)
}

// Store groups the repositories of one backend. A Store handed to the
// WithinTx callback is bound to that transaction.
type Store interface {
	Users() UserRepository
	Messages() MessageRepository
	GroupMessages() GroupMessageRepository
	Sessions() SessionRepository
	Unread() UnreadRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// Permissions answers relationship questions owned by the friend and group
// services.
type Permissions interface {
	CanMessage(ctx context.Context, senderID, receiverID int64) (bool, error)
	IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
	GroupMemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// FileRemover deletes stored attachments by their storage-relative path.
type FileRemover interface {
	Remove(ctx context.Context, path string) error
}
