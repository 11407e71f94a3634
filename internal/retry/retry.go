// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeoutExceeded is matched by every *TimeoutError.
var ErrTimeoutExceeded = errors.New("timeout exceeded")

// TimeoutError is returned when every attempt reported not-done.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout exceeded after %d attempts", e.Attempts)
}

// Is matches ErrTimeoutExceeded.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeoutExceeded
}

// Op is one attempt. It returns done=true to stop with success, or an error
// to stop immediately with that error.
type Op func(ctx context.Context, attempt int) (done bool, err error)

// Policy bounds the attempts.
type Policy struct {
	Attempts int
	Interval time.Duration

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it is done, fails, or the attempts are used up. It returns
// the number of attempts made. There is no pause after the final attempt.
func Do(ctx context.Context, p Policy, op Op) (int, error) {
	if p.Attempts < 1 {
		return 0, fmt.Errorf("retry attempts must be >= 1, got %d", p.Attempts)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		done, err := op(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
		if attempt == p.Attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return attempt, err
		}
	}
	return p.Attempts, &TimeoutError{Attempts: p.Attempts}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
