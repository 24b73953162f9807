package slidingrate

import "time"

// Config holds limiter configuration.
type Config struct {
	// MaxAttempts is the inclusive ceiling of admitted actions per window.
	// Zero or negative rejects everything.
	MaxAttempts int
	Window      time.Duration
}
