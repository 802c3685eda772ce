package exception

import "github.com/yanun0323/errors"

// Core error kinds. Call sites wrap these with context and callers classify with errors.Is.
var (
	ErrInvariantViolation    = errors.New("invariant violation")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrDuplicateKey          = errors.New("duplicate key")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrInvalidBookOperation  = errors.New("invalid book operation")
	ErrNoClient              = errors.New("no client")
	ErrReconciliationFailure = errors.New("reconciliation failure")
)

// Lookup misses.
var (
	ErrUnknownInstrument    = errors.New("unknown instrument id")
	ErrUnknownClientOrderID = errors.New("unknown client order id")
	ErrUnknownPosition      = errors.New("unknown position id")
	ErrUnknownAccount       = errors.New("unknown account id")
	ErrUnknownEndpoint      = errors.New("unknown endpoint")
)

// Order specific.
var (
	ErrOrderAlreadyExists = errors.New("order already exists")
)
