package chat

import "github.com/pkg/errors"

var (
	ErrAuthRequired       = errors.New("you need to log in before sending messages")
	ErrAlreadyInFlight    = errors.New("another message is still being answered")
	ErrEmptyPayload       = errors.New("nothing to send")
	ErrPersistenceFailed  = errors.New("could not create the dialog")
	ErrTitleTooLong       = errors.New("titles are limited to 15 characters")
	ErrEmptyTitle         = errors.New("title is empty")
	ErrNotStreaming       = errors.New("no reply is being streamed")
	ErrInvalidToken       = errors.New("token was rejected by the backend")
	ErrHistoryUnavailable = errors.New("could not load the dialog history")
)

// Texts written into the bot message when a stream ends without an answer.
const (
	FallbackNoData     = "Sorry, the server returned no data. Please try again later."
	FallbackNoAnswer   = "Sorry, the server returned no valid answer. Please try again later."
	ErrorMessagePrefix = "Error while processing request: "
)

// PersistenceError is returned when a draft could not be turned into a
// backend dialog. It matches ErrPersistenceFailed and unwraps to the cause.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return ErrPersistenceFailed.Error() + ": " + e.Err.Error()
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailed
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Cause() error { return e.Err }

// HistoryError is returned by SetIdentity and Login when the identity was
// set but its dialog history could not be loaded.
type HistoryError struct {
	Err error
}

func (e *HistoryError) Error() string {
	return ErrHistoryUnavailable.Error() + ": " + e.Err.Error()
}

func (e *HistoryError) Is(target error) bool {
	return target == ErrHistoryUnavailable
}

func (e *HistoryError) Unwrap() error { return e.Err }

func (e *HistoryError) Cause() error { return e.Err }
