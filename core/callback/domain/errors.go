package domain

import "errors"

var (
	ErrMissingSigner   = errors.New("callback: payload signer must not be nil")
	ErrMissingRoutes   = errors.New("callback: route url generator must not be nil")
	ErrMissingDelegate = errors.New("callback: delegated verification requires a signature delegate")
	ErrUnknownMode     = errors.New("callback: unknown verification mode")
	ErrDuplicate       = errors.New("callback: duplicate notification")
	ErrQueueFull       = errors.New("callback: notification queue is full")
	ErrQueueClosed     = errors.New("callback: notification queue is closed")
)
