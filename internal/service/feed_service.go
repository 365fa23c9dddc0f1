package service

import (
	"context"

	"github.com/rs/zerolog"

	"pollchat/internal/domain"
)

// FeedService serves the polling delivery model: clients hold a watermark
// (the highest message id they have seen) and ask for everything after it.
// The server keeps no per-client state.
type FeedService struct {
	store    domain.Store
	perms    domain.Permissions
	maxBatch int
	log      zerolog.Logger
}

func NewFeedService(store domain.Store, perms domain.Permissions, limits Limits, log zerolog.Logger) *FeedService {
	return &FeedService{
		store:    store,
		perms:    perms,
		maxBatch: limits.withDefaults().PollMaxBatch,
		log:      log.With().Str("component", "feed").Logger(),
	}
}

// Batch is one poll result. Watermark is the id the client should send next
// time; HasMore means the batch was cut at the size bound.
type Batch struct {
	Messages  []*domain.Message `json:"messages"`
	HasMore   bool              `json:"has_more"`
	Watermark int64             `json:"watermark"`
}

// FetchSince returns messages of the chat with id > since in ascending id order.
func (s *FeedService) FetchSince(
	ctx context.Context,
	callerID int64,
	chatType domain.ChatType,
	chatID, since int64,
) (*Batch, error) {
	if since < 0 {
		since = 0
	}
	o := op{name: "fetch_since", userID: callerID, chatType: chatType, chatID: chatID}

	var (
		msgs []*domain.Message
		err  error
	)
	switch chatType {
	case domain.ChatFriend:
		msgs, err = s.store.Messages().ListSince(ctx, callerID, chatID, since, s.maxBatch+1)
	case domain.ChatGroup:
		if err := requireMember(ctx, s.perms, chatID, callerID); err != nil {
			if domain.KindOf(err) == domain.KindAuthorization {
				return nil, err
			}
			return nil, storageFailure(s.log, o, domain.ErrReadFailed, err)
		}
		msgs, err = s.store.GroupMessages().ListSince(ctx, chatID, since, s.maxBatch+1)
	default:
		return nil, domain.ErrInvalidChatType
	}
	if err != nil {
		return nil, storageFailure(s.log, o, domain.ErrReadFailed, err)
	}

	b := &Batch{Messages: msgs, Watermark: since}
	if len(msgs) > s.maxBatch {
		b.Messages = msgs[:s.maxBatch]
		b.HasMore = true
	}
	if b.Messages == nil {
		b.Messages = []*domain.Message{}
	}
	if n := len(b.Messages); n > 0 {
		b.Watermark = b.Messages[n-1].ID
	}

	// Polling doubles as the presence heartbeat.
	if err := s.store.Users().SetOnlineStatus(ctx, callerID, true); err != nil {
		s.log.Warn().Err(err).Int64("user_id", callerID).Msg("presence update failed")
	}
	return b, nil
}
