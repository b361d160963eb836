package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrQueueFull       = errors.New("retry queue full")
	ErrUnknownTemplate = errors.New("unknown email template")
	ErrChannelClosed   = errors.New("channel closed")
	ErrNoEmail         = errors.New("receiver has no email")
)
