package wrapper

import (
	"errors"
	"fmt"
	"time"

	"github.com/opwatch/opwatch/internal/race"
)

var ErrTimeout = errors.New("operation timed out")

// TimeoutError is returned when the hard timeout elapses before the call
// settles. The call itself may still be running.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("XMTP operation %q timed out after %dms", e.Name, e.Timeout.Milliseconds())
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// SlowCallError describes a call that succeeded but took longer than the
// slow threshold. It is only ever reported, never returned.
type SlowCallError struct {
	Name     string
	Duration time.Duration
}

func (e *SlowCallError) Error() string {
	return fmt.Sprintf("Calling %q took %dms", e.Name, e.Duration.Milliseconds())
}

// PanicError is the failure returned when a wrapped call panics.
type PanicError = race.PanicError
