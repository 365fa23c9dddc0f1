package service

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"pollchat/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	DefaultHistoryMax   = 200
	DefaultPollBatch    = 200
)

// Limits bounds the size of history pages and poll batches.
type Limits struct {
	HistoryDefault int
	HistoryMax     int
	PollMaxBatch   int
}

func (l Limits) withDefaults() Limits {
	if l.HistoryDefault <= 0 {
		l.HistoryDefault = DefaultHistoryLimit
	}
	if l.HistoryMax <= 0 {
		l.HistoryMax = DefaultHistoryMax
	}
	if l.HistoryDefault > l.HistoryMax {
		l.HistoryDefault = l.HistoryMax
	}
	if l.PollMaxBatch <= 0 {
		l.PollMaxBatch = DefaultPollBatch
	}
	return l
}

func (l Limits) page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = l.HistoryDefault
	}
	if limit > l.HistoryMax {
		limit = l.HistoryMax
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// op describes the request a storage failure happened in.
type op struct {
	name     string
	userID   int64
	chatType domain.ChatType
	chatID   int64
}

// storageFailure logs the internal cause with its operation context and
// returns sentinel, whose message is the only thing the caller gets to see.
func storageFailure(log zerolog.Logger, o op, sentinel, err error) error {
	log.Error().
		Err(err).
		Str("op", o.name).
		Int64("user_id", o.userID).
		Str("chat_type", string(o.chatType)).
		Int64("chat_id", o.chatID).
		Msg("storage failure")
	return domain.Because(sentinel, errors.Wrap(err, o.name))
}

func reverse(msgs []*domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
