package game

// Error is a rule violation reported to the client as an API call error
// with a stable machine-readable code. The description is free-form text
// for humans and may change between versions.
type Error struct {
	Code        string
	Description string

	state bool
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Description
}

// IsStateError reports whether the error concerns the current game
// state rather than the request itself. State errors usually mean the
// client has desynced, so the dispatch layer follows them with a full
// resync.
func (e *Error) IsStateError() bool {
	return e.state
}

// NewError returns a plain game error.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// NewStateError returns a game state error.
func NewStateError(code, description string) *Error {
	return &Error{Code: code, Description: description, state: true}
}

// NewInvalidRequest flags a malformed request. These should never occur
// with a well-behaved client.
func NewInvalidRequest(description string) *Error {
	return &Error{Code: "invalid_request", Description: description}
}
