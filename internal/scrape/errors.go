package scrape

import "errors"

// Sentinel errors shared across subsystems. Wrap them with %w.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrSessionBusy       = errors.New("session in use")
	ErrUnsupported       = errors.New("operation not supported by browser backend")
	ErrLoginFormNotFound = errors.New("login form not found")
	ErrLoginRejected     = errors.New("login rejected")
	ErrPoolClosed        = errors.New("browser pool closed")
	ErrQueueClosed       = errors.New("queue closed")
)
