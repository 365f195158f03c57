package domain

import "errors"

var (
	// ErrNotFound marks an unknown game, session, participant or question.
	ErrNotFound = errors.New("not found")
	// ErrReplayWindow marks a completed game that cannot be replayed right now.
	ErrReplayWindow = errors.New("replay window closed")
	// ErrInvalidState marks an operation that is illegal in the current state machine position.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrTransientStore marks a store I/O failure or timeout. Only these are retried.
	ErrTransientStore = errors.New("transient store error")
	// ErrMalformedRecord marks stored state that cannot be decoded.
	ErrMalformedRecord = errors.New("malformed record")
)

// Stable user-visible messages.
const (
	MsgGameNotFound     = "Game not found"
	MsgReplayClosed     = "This quiz has ended and is not available for replay"
	MsgJoinFailed       = "An error occurred while joining the game"
	MsgSessionNotFound  = "Practice session not found"
	MsgNoQuestionsFound = "No questions found for the specified criteria"
)

// Error carries a user-visible message and unwraps to one of the sentinel kinds above.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func NotFound(msg string) error     { return &Error{Kind: ErrNotFound, Msg: msg} }
func ReplayWindow(msg string) error { return &Error{Kind: ErrReplayWindow, Msg: msg} }
func InvalidState(msg string) error { return &Error{Kind: ErrInvalidState, Msg: msg} }
func Validation(msg string) error   { return &Error{Kind: ErrValidation, Msg: msg} }

// Transient wraps a store failure so retry helpers recognise it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrTransientStore, Err: err}
}

// IsTerminal reports whether err must be surfaced verbatim and never retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrReplayWindow) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrValidation)
}
