package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"pollchat/internal/domain"
)

type MessageService struct {
	store  domain.Store
	perms  domain.Permissions
	files  domain.FileRemover
	recall *RecallPolicy
	limits Limits
	log    zerolog.Logger
}

func NewMessageService(
	store domain.Store,
	perms domain.Permissions,
	files domain.FileRemover,
	recall *RecallPolicy,
	limits Limits,
	log zerolog.Logger,
) *MessageService {
	if recall == nil {
		recall = NewRecallPolicy(DefaultRecallWindow, RecallCoarse)
	}
	return &MessageService{
		store:  store,
		perms:  perms,
		files:  files,
		recall: recall,
		limits: limits.withDefaults(),
		log:    log.With().Str("component", "messages").Logger(),
	}
}

// FileRef points at an attachment that the upload service already stored.
type FileRef struct {
	Path string
	Name string
	Size int64
}

type SendInput struct {
	ChatType    domain.ChatType
	ChatID      int64
	Content     string
	File        *FileRef
	IsEncrypted bool
	// ClientMsgID makes retries safe: a second send with the same key
	// returns the first message without touching any counters.
	ClientMsgID string
}

func (in SendInput) validate() (*string, error) {
	switch in.ChatType {
	case domain.ChatFriend, domain.ChatGroup:
	default:
		return nil, domain.ErrInvalidChatType
	}
	if in.Content == "" && in.File == nil {
		return nil, domain.ErrEmptyMessage
	}
	if in.Content != "" && in.File != nil {
		return nil, domain.ErrAmbiguousPayload
	}
	if in.File != nil && (in.File.Path == "" || in.File.Name == "" || in.File.Size < 0) {
		return nil, domain.ErrInvalidFile
	}
	if in.ClientMsgID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(in.ClientMsgID)
	if err != nil {
		return nil, domain.ErrInvalidClientID
	}
	key := id.String()
	return &key, nil
}

// Send appends a message and updates the receiver-side session and unread
// counters in the same transaction.
func (s *MessageService) Send(ctx context.Context, senderID int64, in SendInput) (*domain.Message, error) {
	clientID, err := in.validate()
	if err != nil {
		return nil, err
	}
	o := op{name: "send", userID: senderID, chatType: in.ChatType, chatID: in.ChatID}

	recipients, err := s.recipients(ctx, senderID, in.ChatType, in.ChatID)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuthorization {
			return nil, err
		}
		return nil, storageFailure(s.log, o, domain.ErrSendFailed, err)
	}

	if clientID != nil {
		existing, err := s.findByClientID(ctx, in.ChatType, senderID, *clientID)
		if err != nil {
			return nil, storageFailure(s.log, o, domain.ErrSendFailed, err)
		}
		if existing != nil {
			return replay(existing, in)
		}
	}

	msg := &domain.Message{
		ChatType:    in.ChatType,
		SenderID:    senderID,
		IsEncrypted: in.IsEncrypted,
		ClientMsgID: clientID,
		Status:      domain.StatusSent,
	}
	if in.ChatType == domain.ChatGroup {
		msg.GroupID = in.ChatID
	} else {
		msg.ReceiverID = in.ChatID
	}
	if in.File != nil {
		msg.Type = domain.MessageFile
		msg.FilePath = &in.File.Path
		msg.FileName = &in.File.Name
		msg.FileSize = &in.File.Size
	} else {
		content := in.Content
		if !in.IsEncrypted {
			content = FilterContent(content)
		}
		msg.Type = domain.MessageText
		msg.Content = &content
	}

	err = s.store.WithinTx(ctx, func(tx domain.Store) error {
		return appendMessage(ctx, tx, msg, recipients)
	})
	if err != nil {
		// A concurrent retry with the same key may have won the unique index.
		if clientID != nil {
			if existing, ferr := s.findByClientID(ctx, in.ChatType, senderID, *clientID); ferr == nil && existing != nil {
				return replay(existing, in)
			}
		}
		return nil, storageFailure(s.log, o, domain.ErrSendFailed, err)
	}

	s.log.Debug().
		Int64("message_id", msg.ID).
		Int64("sender_id", senderID).
		Str("chat_type", string(in.ChatType)).
		Int64("chat_id", in.ChatID).
		Msg("message sent")
	return msg, nil
}

// recipients checks that sender may post to the chat and returns the users
// whose counters the message bumps.
func (s *MessageService) recipients(ctx context.Context, senderID int64, chatType domain.ChatType, chatID int64) ([]int64, error) {
	if chatType == domain.ChatFriend {
		ok, err := s.perms.CanMessage(ctx, senderID, chatID)
		if err != nil {
			return nil, errors.Wrap(err, "check friendship")
		}
		if !ok {
			return nil, domain.ErrCannotMessage
		}
		return []int64{chatID}, nil
	}

	ok, err := s.perms.IsGroupMember(ctx, chatID, senderID)
	if err != nil {
		return nil, errors.Wrap(err, "check membership")
	}
	if !ok {
		return nil, domain.ErrNotGroupMember
	}
	members, err := s.perms.GroupMemberIDs(ctx, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "list group members")
	}
	out := make([]int64, 0, len(members))
	for _, id := range members {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out, nil
}

// appendMessage is the single unit of work behind every send.
func appendMessage(ctx context.Context, tx domain.Store, msg *domain.Message, recipients []int64) error {
	if msg.ChatType == domain.ChatGroup {
		if err := tx.GroupMessages().Create(ctx, msg); err != nil {
			return err
		}
		for _, uid := range recipients {
			if err := tx.Unread().Increment(ctx, uid, domain.ChatGroup, msg.GroupID, msg.ID); err != nil {
				return err
			}
		}
		return nil
	}

	if err := tx.Messages().Create(ctx, msg); err != nil {
		return err
	}
	if err := tx.Sessions().Upsert(ctx, msg.ReceiverID, msg.SenderID, msg.ID); err != nil {
		return err
	}
	// The receiver's friend counter is keyed by the peer who wrote to them.
	return tx.Unread().Increment(ctx, msg.ReceiverID, domain.ChatFriend, msg.SenderID, msg.ID)
}

// replay answers a retried send with the message its key already produced.
// A key is bound to the chat it was first used in.
func replay(existing *domain.Message, in SendInput) (*domain.Message, error) {
	if existing.ChatID() != in.ChatID {
		return nil, domain.ErrClientIDReused
	}
	return existing, nil
}

func (s *MessageService) findByClientID(ctx context.Context, chatType domain.ChatType, senderID int64, clientID string) (*domain.Message, error) {
	if chatType == domain.ChatGroup {
		return s.store.GroupMessages().FindByClientID(ctx, senderID, clientID)
	}
	return s.store.Messages().FindByClientID(ctx, senderID, clientID)
}

// History returns one page of a conversation in chronological order.
// Offset counts back from the newest message.
func (s *MessageService) History(
	ctx context.Context,
	callerID int64,
	chatType domain.ChatType,
	chatID int64,
	limit, offset int,
) ([]*domain.Message, error) {
	limit, offset = s.limits.page(limit, offset)
	o := op{name: "history", userID: callerID, chatType: chatType, chatID: chatID}

	var (
		msgs []*domain.Message
		err  error
	)
	switch chatType {
	case domain.ChatFriend:
		msgs, err = s.store.Messages().ListBetween(ctx, callerID, chatID, limit, offset)
	case domain.ChatGroup:
		if err := requireMember(ctx, s.perms, chatID, callerID); err != nil {
			if domain.KindOf(err) == domain.KindAuthorization {
				return nil, err
			}
			return nil, storageFailure(s.log, o, domain.ErrReadFailed, err)
		}
		msgs, err = s.store.GroupMessages().ListHistory(ctx, chatID, limit, offset)
	default:
		return nil, domain.ErrInvalidChatType
	}
	if err != nil {
		return nil, storageFailure(s.log, o, domain.ErrReadFailed, err)
	}

	// Storage returns newest first.
	reverse(msgs)
	return msgs, nil
}

// MarkRead flips the given messages addressed to callerID to read. Ids of
// messages the caller did not receive are ignored.
func (s *MessageService) MarkRead(ctx context.Context, callerID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.store.Messages().MarkRead(ctx, callerID, ids); err != nil {
		return storageFailure(s.log, op{name: "mark_read", userID: callerID, chatType: domain.ChatFriend}, domain.ErrAcknowledgeFailed, err)
	}
	return nil
}

// UnreadCount counts 1:1 messages addressed to userID that are not yet read.
func (s *MessageService) UnreadCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.Messages().CountUnread(ctx, userID)
	if err != nil {
		return 0, storageFailure(s.log, op{name: "unread_count", userID: userID}, domain.ErrReadFailed, err)
	}
	return n, nil
}

// Recall deletes a message its sender wrote within the recall window, then
// removes the attached file if any. Unread counters are left as they are.
func (s *MessageService) Recall(ctx context.Context, callerID int64, chatType domain.ChatType, messageID int64) error {
	o := op{name: "recall", userID: callerID, chatType: chatType}

	var (
		msg *domain.Message
		err error
	)
	switch chatType {
	case domain.ChatFriend:
		msg, err = s.store.Messages().GetByID(ctx, messageID)
	case domain.ChatGroup:
		msg, err = s.store.GroupMessages().GetByID(ctx, messageID)
	default:
		return domain.ErrInvalidChatType
	}
	if err != nil {
		return storageFailure(s.log, o, domain.ErrRecallFailed, err)
	}
	if msg != nil {
		o.chatID = msg.ChatID()
	}

	if err := s.recall.Authorize(msg, callerID); err != nil {
		s.log.Debug().
			Err(err).
			Int64("message_id", messageID).
			Int64("user_id", callerID).
			Msg("recall refused")
		return err
	}

	var deleted, orphaned bool
	err = s.store.WithinTx(ctx, func(tx domain.Store) error {
		var err error
		if chatType == domain.ChatGroup {
			deleted, err = tx.GroupMessages().DeleteBySender(ctx, messageID, callerID)
		} else {
			deleted, err = tx.Messages().DeleteBySender(ctx, messageID, callerID)
		}
		if err != nil || !deleted || msg.FilePath == nil {
			return err
		}
		refs, err := fileRefs(ctx, tx, *msg.FilePath)
		if err != nil {
			return err
		}
		orphaned = refs == 0
		return nil
	})
	if err != nil {
		return storageFailure(s.log, o, domain.ErrRecallFailed, err)
	}
	if !deleted {
		// Lost a race with another recall of the same message.
		return domain.ErrRecallNotAllowed
	}

	// Attachment paths come from the client, so another message may still
	// point at the same file.
	if orphaned && s.files != nil {
		if err := s.files.Remove(ctx, *msg.FilePath); err != nil {
			s.log.Warn().
				Err(err).
				Int64("message_id", messageID).
				Str("path", *msg.FilePath).
				Msg("recalled message file could not be removed")
		}
	}
	return nil
}

// fileRefs counts the messages of either chat type that attach path.
func fileRefs(ctx context.Context, tx domain.Store, path string) (int, error) {
	friend, err := tx.Messages().CountByFilePath(ctx, path)
	if err != nil {
		return 0, err
	}
	group, err := tx.GroupMessages().CountByFilePath(ctx, path)
	if err != nil {
		return 0, err
	}
	return friend + group, nil
}

func requireMember(ctx context.Context, perms domain.Permissions, groupID, userID int64) error {
	ok, err := perms.IsGroupMember(ctx, groupID, userID)
	if err != nil {
		return errors.Wrap(err, "check membership")
	}
	if !ok {
		return domain.ErrNotGroupMember
	}
	return nil
}
