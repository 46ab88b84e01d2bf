package status

import "errors"

// Issuance errors. All of them abort the workflow; any inventory already
// reserved is released before the error reaches the caller.
var (
	ErrInvalidMetadata = errors.New("issuance: invalid confirmation metadata")
	ErrOutOfStock      = errors.New("issuance: insufficient remaining tickets")
	ErrRenderFailure   = errors.New("issuance: proof rendering failed")
)

// Validation rejections. These never mutate the ticket and are returned to
// the scanning client as-is.
var (
	ErrSignatureMismatch = errors.New("validation: invalid signature")
	ErrTicketNotFound    = errors.New("validation: ticket not found")
	ErrAlreadyUsed       = errors.New("validation: ticket already used")
)
