package service

import (
	"context"

	"github.com/rs/zerolog"

	"pollchat/internal/domain"
)

// ConversationService owns the per-user conversation list and the read
// acknowledgement that keeps sessions and unread counters in step.
type ConversationService struct {
	store domain.Store
	perms domain.Permissions
	log   zerolog.Logger
}

func NewConversationService(store domain.Store, perms domain.Permissions, log zerolog.Logger) *ConversationService {
	return &ConversationService{
		store: store,
		perms: perms,
		log:   log.With().Str("component", "conversations").Logger(),
	}
}

type Overview struct {
	Sessions []*domain.SessionSummary `json:"sessions"`
	Groups   []*domain.GroupSummary   `json:"groups"`
}

// ListForUser returns the 1:1 sessions (most recently active first) and the
// groups of userID.
func (s *ConversationService) ListForUser(ctx context.Context, userID int64) (*Overview, error) {
	o := op{name: "list_sessions", userID: userID}

	sessions, err := s.store.Sessions().ListForUser(ctx, userID)
	if err != nil {
		return nil, storageFailure(s.log, o, domain.ErrReadFailed, err)
	}
	groups, err := s.store.Sessions().ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, storageFailure(s.log, o, domain.ErrReadFailed, err)
	}

	if sessions == nil {
		sessions = []*domain.SessionSummary{}
	}
	if groups == nil {
		groups = []*domain.GroupSummary{}
	}
	return &Overview{Sessions: sessions, Groups: groups}, nil
}

// Acknowledge marks a chat as read for userID. For friend chats the peer's
// messages, the session badge and the unified counter change together.
func (s *ConversationService) Acknowledge(ctx context.Context, userID int64, chatType domain.ChatType, chatID int64) error {
	o := op{name: "acknowledge", userID: userID, chatType: chatType, chatID: chatID}

	switch chatType {
	case domain.ChatFriend:
	case domain.ChatGroup:
		if err := requireMember(ctx, s.perms, chatID, userID); err != nil {
			if domain.KindOf(err) == domain.KindAuthorization {
				return err
			}
			return storageFailure(s.log, o, domain.ErrAcknowledgeFailed, err)
		}
	default:
		return domain.ErrInvalidChatType
	}

	err := s.store.WithinTx(ctx, func(tx domain.Store) error {
		if chatType == domain.ChatFriend {
			if err := tx.Messages().MarkReadFrom(ctx, userID, chatID); err != nil {
				return err
			}
			if err := tx.Sessions().ClearUnreadForPeer(ctx, userID, chatID); err != nil {
				return err
			}
		}
		return tx.Unread().Reset(ctx, userID, chatType, chatID)
	})
	if err != nil {
		return storageFailure(s.log, o, domain.ErrAcknowledgeFailed, err)
	}
	return nil
}

// ClearUnread zeroes the badge of one of userID's sessions. Sessions owned
// by someone else are reported as missing.
func (s *ConversationService) ClearUnread(ctx context.Context, userID, sessionID int64) error {
	o := op{name: "clear_unread", userID: userID, chatType: domain.ChatFriend}

	sess, err := s.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		return storageFailure(s.log, o, domain.ErrAcknowledgeFailed, err)
	}
	if sess == nil || sess.UserID != userID {
		return domain.ErrSessionNotFound
	}
	o.chatID = sess.FriendID

	err = s.store.WithinTx(ctx, func(tx domain.Store) error {
		if err := tx.Sessions().ClearUnread(ctx, sess.ID); err != nil {
			return err
		}
		return tx.Unread().Reset(ctx, userID, domain.ChatFriend, sess.FriendID)
	})
	if err != nil {
		return storageFailure(s.log, o, domain.ErrAcknowledgeFailed, err)
	}
	return nil
}

// UnreadCounters lists the non-zero unread badges of userID across friend
// and group chats.
func (s *ConversationService) UnreadCounters(ctx context.Context, userID int64) ([]*domain.UnreadCounter, error) {
	counters, err := s.store.Unread().ListForUser(ctx, userID)
	if err != nil {
		return nil, storageFailure(s.log, op{name: "unread_counters", userID: userID}, domain.ErrReadFailed, err)
	}
	if counters == nil {
		counters = []*domain.UnreadCounter{}
	}
	return counters, nil
}
