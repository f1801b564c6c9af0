package chat

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat   = errors.New("invalid date format")
	ErrNoIdentity      = errors.New("missing chat profile")
	ErrEmptyMessage    = errors.New("message has no text and no images")
	ErrBusy            = errors.New("a submission is already pending")
	ErrNotAuthor       = errors.New("only the author can change this message")
	ErrInvalidReaction = errors.New("reaction is not allowed")
	ErrUploaderConfig  = errors.New("image host credentials are not configured")
	ErrNotFound        = errors.New("message not found")
)

// StoreError reports a failed message store operation.
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// UploadError reports a failed image upload. Index is the position of the
// failing file in the batch.
type UploadError struct {
	Index int
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload image %d: %v", e.Index, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Notice kinds surfaced to users.
const (
	KindInvalidFormat = "invalid_format"
	KindValidation    = "validation"
	KindBusy          = "busy"
	KindForbidden     = "forbidden"
	KindNotFound      = "not_found"
	KindUpload        = "upload"
	KindStore         = "store"
	KindInternal      = "internal"
)

// KindOf classifies err for user-facing notices.
func KindOf(err error) string {
	var upErr *UploadError
	var stErr *StoreError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFormat):
		return KindInvalidFormat
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrNotAuthor):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoIdentity), errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrInvalidReaction), errors.Is(err, ErrUploaderConfig):
		return KindValidation
	case errors.As(err, &upErr):
		return KindUpload
	case errors.As(err, &stErr):
		return KindStore
	}
	return KindInternal
}
