package domain

import (
	"time"
)

// ChatType distinguishes 1:1 conversations from group conversations.
type ChatType string

const (
	ChatFriend ChatType = "friend"
	ChatGroup  ChatType = "group"
)

// ParseChatType validates a chat type coming from the outside world.
func ParseChatType(s string) (ChatType, error) {
	switch ChatType(s) {
	case ChatFriend, ChatGroup:
		return ChatType(s), nil
	}
	return "", ErrInvalidChatType
}

// MessageType decides which payload fields of a Message are authoritative.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// MessageStatus only ever moves forward: sent -> read.
type MessageStatus string

const (
	StatusSent MessageStatus = "sent"
	StatusRead MessageStatus = "read"
)

// User is the subset of the account record the messaging core joins against.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	IsOnline    bool      `db:"is_online" json:"is_online"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
}

// Message is a single chat message. For friend chats ReceiverID is set, for
// group chats GroupID is set. Exactly one of Content and FilePath is non-nil.
type Message struct {
	ID          int64         `db:"id" json:"id"`
	ChatType    ChatType      `db:"-" json:"chat_type"`
	SenderID    int64         `db:"sender_id" json:"sender_id"`
	ReceiverID  int64         `db:"receiver_id" json:"receiver_id,omitempty"`
	GroupID     int64         `db:"group_id" json:"group_id,omitempty"`
	Content     *string       `db:"content" json:"content,omitempty"`
	FilePath    *string       `db:"file_path" json:"file_path,omitempty"`
	FileName    *string       `db:"file_name" json:"file_name,omitempty"`
	FileSize    *int64        `db:"file_size" json:"file_size,omitempty"`
	Type        MessageType   `db:"type" json:"type"`
	Status      MessageStatus `db:"status" json:"status"`
	IsEncrypted bool          `db:"is_encrypted" json:"is_encrypted"`
	ClientMsgID *string       `db:"client_msg_id" json:"client_msg_id,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// ChatID returns the receiver for friend messages and the group for group messages.
func (m *Message) ChatID() int64 {
	if m.ChatType == ChatGroup {
		return m.GroupID
	}
	return m.ReceiverID
}

// Session is the receiver-side summary row of a 1:1 conversation.
type Session struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	FriendID      int64     `db:"friend_id" json:"friend_id"`
	LastMessageID *int64    `db:"last_message_id" json:"last_message_id,omitempty"`
	UnreadCount   int       `db:"unread_count" json:"unread_count"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Preview is the last-message snippet shown in the conversation list. It is
// nil on a summary when the referenced message no longer exists.
type Preview struct {
	MessageID int64       `json:"message_id"`
	SenderID  int64       `json:"sender_id"`
	Type      MessageType `json:"type"`
	Content   *string     `json:"content,omitempty"`
	FileName  *string     `json:"file_name,omitempty"`
	Encrypted bool        `json:"is_encrypted"`
}

// SessionSummary is a conversation list entry for a 1:1 chat.
type SessionSummary struct {
	SessionID   int64     `json:"session_id"`
	PeerID      int64     `json:"peer_id"`
	DisplayName string    `json:"display_name"`
	PeerOnline  bool      `json:"peer_online"`
	Preview     *Preview  `json:"preview"`
	UnreadCount int       `json:"unread_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupSummary is a conversation list entry for a group chat, derived on read.
type GroupSummary struct {
	GroupID     int64      `json:"group_id"`
	Name        string     `json:"name"`
	Preview     *Preview   `json:"preview"`
	UnreadCount int        `json:"unread_count"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// UnreadCounter is the per (user, chat type, chat id) unread badge.
type UnreadCounter struct {
	UserID        int64     `db:"user_id" json:"user_id"`
	ChatType      ChatType  `db:"chat_type" json:"chat_type"`
	ChatID        int64     `db:"chat_id" json:"chat_id"`
	Count         int       `db:"count" json:"count"`
	LastMessageID *int64    `db:"last_message_id" json:"last_message_id,omitempty"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
