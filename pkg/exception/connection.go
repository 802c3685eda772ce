package exception

import "github.com/yanun0323/errors"

// Errors surfaced from external collaborators.
var (
	ErrConnection     = errors.New("connection error")
	ErrAuthentication = errors.New("authentication error")
	ErrTimeout        = errors.New("timeout")
	ErrNotConnected   = errors.New("client not connected")
)
