package can

import "errors"

// API result values. A nil error is the Ok result.
var (
	// ErrNotOK is the generic failure: a bounded hardware poll ran out or
	// the controller is in the wrong state. Not retryable without external
	// intervention.
	ErrNotOK = errors.New("can: operation failed")

	// ErrBusy means the addressed hardware object is occupied; the caller
	// may retry or drop.
	ErrBusy = errors.New("can: hardware object busy")

	// ErrParam flags caller misuse: invalid controller, mailbox index,
	// handle, length or nil argument.
	ErrParam = errors.New("can: invalid parameter")

	// ErrUninit is returned when the API is used before Init or after
	// DeInit.
	ErrUninit = errors.New("can: driver not initialized")
)
