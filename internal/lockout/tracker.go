package lockout

import (
	"context"
	"time"
)

// Policy bounds failed sign-in attempts. MaxAttempts failures inside Window
// lock the key for Duration.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

// Tracker counts failed password attempts per account key.
type Tracker interface {
	// Locked reports whether the key is currently locked out.
	Locked(ctx context.Context, key string) (bool, error)
	// Fail records one failure and reports whether the key is now locked.
	Fail(ctx context.Context, key string) (bool, error)
	// Reset clears the failure count after a successful sign-in.
	Reset(ctx context.Context, key string) error
}
