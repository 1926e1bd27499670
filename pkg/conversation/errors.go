package conversation

import "errors"

var (
	// ErrEmptyInput is returned by Send when the resolved text is blank.
	ErrEmptyInput = errors.New("empty input")

	// ErrAlreadyPending is returned by Send while an exchange is in flight.
	ErrAlreadyPending = errors.New("an exchange is already pending")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("conversation closed")

	// ErrStreamFailure wraps the cause of a failed exchange in TurnFailed events.
	ErrStreamFailure = errors.New("stream failure")

	// ErrTimeout is the cause of an exchange abandoned after the silence timeout.
	ErrTimeout = errors.New("no response from completion service")

	// ErrHistoryLoad wraps the cause of a failed history load.
	ErrHistoryLoad = errors.New("history load failed")

	// ErrNoClient is returned by New and Open when Config.Client is nil.
	ErrNoClient = errors.New("conversation requires a stream client")
)
