package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidOdds   = errors.New("odds off ladder")
	ErrOrderRejected = errors.New("order rejected by venue")
	ErrOrderGone     = errors.New("order already gone")
	ErrRateLimited   = errors.New("rate limited")
	ErrTransport     = errors.New("transport failure")
	ErrPositionGone  = errors.New("position deleted")
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrShuttingDown  = errors.New("shutting down")
)
