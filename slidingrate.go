// Package slidingrate admits or rejects units of work against a sliding-window
// log of recently admitted attempts.
//
// A Limiter keeps one timestamp per admitted action. An action is admitted while
// fewer than MaxAttempts timestamps fall inside the trailing Window. Expired
// timestamps are pruned lazily, on every call; nothing runs in the background.
//
// Rejection is not an error: Execute and Do report it through their ok result
// and fire the OnExceeded callback. Errors returned by the wrapped action pass
// through unchanged and the attempt they consumed is not refunded.
package slidingrate

import (
	"context"
	"errors"
)

var (
	// ErrLimit is returned by Wait when the context deadline falls before the
	// next slot frees up.
	ErrLimit = context.DeadlineExceeded

	// ErrInvalidWindow is returned by New when the window is not positive.
	ErrInvalidWindow = errors.New("slidingrate: window must be positive")
)
