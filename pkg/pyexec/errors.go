package pyexec

import "errors"

var (
	// ErrEmptySource means nothing is left to run after extraction.
	ErrEmptySource = errors.New("no code provided")

	// ErrClosed is reported by Execute after Close.
	ErrClosed = errors.New("engine closed")
)

// Report texts.
const (
	MsgNoCode     = "No code provided to execute."
	MsgBlocked    = "Code contains potentially unsafe operations and was not executed."
	MsgNoOutput   = "Code executed successfully with no output."
	msgUnexpected = "An unexpected error occurred: "
)
