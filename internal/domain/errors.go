package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller. The kind decides the status code
// and whether Message is safe to show as-is.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindPolicy        Kind = "POLICY"
	KindNotFound      Kind = "NOT_FOUND"
	KindStorage       Kind = "STORAGE"
)

// AppError carries a user-facing message separate from the internal cause.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on kind so that errors.Is(err, ErrRecallTooLate) works for
// wrapped instances carrying a different cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func New(kind Kind, message string) error {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// Because returns a copy of sentinel carrying cause, so errors.Is still
// matches the sentinel while the cause stays available for logging.
func Because(sentinel, cause error) error {
	var base *AppError
	if !errors.As(sentinel, &base) {
		return Wrap(KindStorage, MsgGenericFailure, cause)
	}
	return &AppError{Kind: base.Kind, Message: base.Message, Cause: cause}
}

// KindOf returns the kind of err, or KindStorage for anything unclassified.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStorage
}

// PublicMessage returns the text that may be shown to the end user.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return MsgGenericFailure
}

const MsgGenericFailure = "something went wrong, please try again"

var (
	ErrInvalidChatType   = New(KindValidation, "unknown chat type")
	ErrEmptyMessage      = New(KindValidation, "message must carry text or a file")
	ErrInvalidFile       = New(KindValidation, "file attachment is incomplete")
	ErrAmbiguousPayload  = New(KindValidation, "message must carry either text or a file, not both")
	ErrInvalidClientID   = New(KindValidation, "client_msg_id must be a UUID")
	ErrClientIDReused    = New(KindValidation, "client_msg_id was already used for another chat")
	ErrCannotMessage     = New(KindAuthorization, "you cannot send messages to this chat")
	ErrNotGroupMember    = New(KindAuthorization, "you are not a member of this group")
	ErrRecallNotAllowed  = New(KindNotFound, "message not found or not permitted")
	ErrRecallTooLate     = New(KindPolicy, "message exceeds the recall window")
	ErrSessionNotFound   = New(KindNotFound, "conversation not found")
	ErrUserNotFound      = New(KindNotFound, "user not found")
	ErrSendFailed        = New(KindStorage, "failed to send message, please try again")
	ErrRecallFailed      = New(KindStorage, "failed to recall message, please try again")
	ErrReadFailed        = New(KindStorage, "failed to load messages, please try again")
	ErrAcknowledgeFailed = New(KindStorage, "failed to update read state, please try again")
)
