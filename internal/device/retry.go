package device

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hpungsan/custody/internal/errors"
)

// DefaultRetryDelay is the pause before a reconnect attempt.
const DefaultRetryDelay = 500 * time.Millisecond

// Transient reports whether a link error may clear on its own: a device that
// is rebooting or whose USB link flapped. PERMISSION_DENIED needs the operator.
func Transient(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrDeviceNotFound, errors.ErrDeviceDisconnected, errors.ErrDeviceTimeout:
		return true
	}
	return false
}

// ConnectWithRetry connects, retrying transient failures at most attempts
// extra times with a constant delay. This is the only retry the capture path
// performs on its own.
func ConnectWithRetry(ctx context.Context, link Link, attempts int, delay time.Duration) (Handle, error) {
	if attempts < 0 {
		attempts = 0
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	var h Handle
	backoff := retry.WithMaxRetries(uint64(attempts), retry.NewConstant(delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		h, err = link.Connect(ctx)
		if err != nil && Transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if _, typed := errors.As(err); !typed && ctx.Err() != nil {
			return Handle{}, errors.NewCancelled("connect")
		}
		return Handle{}, err
	}
	return h, nil
}
