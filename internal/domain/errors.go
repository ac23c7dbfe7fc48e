package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Every error here reaches only the originating
// connection as a structured error event; none of them fan out.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccessDenied         = errors.New("access denied")
	ErrEmptyMessage         = errors.New("message has no content or attachments")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrInvalidAttachment    = errors.New("invalid attachment")
	ErrInvalidRoomSpec      = errors.New("invalid room spec")
	ErrRoomFull             = errors.New("room is at capacity")
	ErrNotAuthor            = errors.New("only the author can edit a message")
	ErrMuted                = errors.New("user is muted in this room")
	ErrRoomNotFound         = errors.New("room not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrMalformedEvent       = errors.New("malformed event payload")

	// ErrRateLimited and ErrPersistenceFailed are matched via errors.Is
	// against the typed errors below.
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrPersistenceFailed = errors.New("persistence failed")
)

// RateLimitError reports an exhausted budget and when to retry.
type RateLimitError struct {
	Category   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Category, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds returns the retry hint in whole seconds, at least 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// PersistenceError wraps a store failure. The message is not considered
// sent and no broadcast occurs.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailed
}

// Wire error codes.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeAccessDenied         = "access_denied"
	CodeRateLimitExceeded    = "rate_limit_exceeded"
	CodeEmptyMessage         = "empty_message"
	CodeMessageTooLong       = "message_too_long"
	CodeInvalidAttachment    = "invalid_attachment"
	CodeInvalidRoomSpec      = "invalid_room_spec"
	CodeRoomFull             = "room_full"
	CodeNotAuthor            = "not_author"
	CodeMuted                = "muted"
	CodeNotFound             = "not_found"
	CodeSendFailed           = "send_failed"
	CodeBadRequest           = "bad_request"
	CodeInternalError        = "internal_error"
)

// ErrorCode maps an error to the wire code reported to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return CodeAuthenticationFailed
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimitExceeded
	case errors.Is(err, ErrEmptyMessage):
		return CodeEmptyMessage
	case errors.Is(err, ErrMessageTooLong):
		return CodeMessageTooLong
	case errors.Is(err, ErrInvalidAttachment):
		return CodeInvalidAttachment
	case errors.Is(err, ErrInvalidRoomSpec):
		return CodeInvalidRoomSpec
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, ErrNotAuthor):
		return CodeNotAuthor
	case errors.Is(err, ErrMuted):
		return CodeMuted
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrMessageNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistenceFailed):
		return CodeSendFailed
	case errors.Is(err, ErrMalformedEvent):
		return CodeBadRequest
	}
	return CodeInternalError
}
