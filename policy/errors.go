package policy

import "errors"

// Errors
var (
	ErrUnsupportedKind = errors.New("unsupported policy architecture")
	ErrBadSpace        = errors.New("bad observation or action space")
	ErrShape           = errors.New("observation shape mismatch")
	ErrActionRange     = errors.New("action index out of range")
	ErrBatchMismatch   = errors.New("action batch does not match observation batch")
	ErrUnknownVariable = errors.New("unknown variable")
)
