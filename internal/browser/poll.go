package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrPollTimeout is returned by PollUntil when the condition never held.
var ErrPollTimeout = errors.New("condition not met before timeout")

var errNotYet = errors.New("condition not met")

// Backoff describes an exponential polling schedule.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Timeout bounds the whole poll. Zero means only ctx bounds it.
	Timeout time.Duration
}

// DefaultBackoff is used for page-settling waits.
var DefaultBackoff = Backoff{
	Initial: 250 * time.Millisecond,
	Max:     2 * time.Second,
	Factor:  1.6,
	Timeout: 10 * time.Second,
}

// Exponential returns the schedule as a jitter-free backoff.ExponentialBackOff.
// Elapsed time is left to the context so a slow condition can't overrun it.
func (b Backoff) Exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 100 * time.Millisecond
	}
	eb.Multiplier = b.Factor
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = time.Duration(1<<63 - 1)
	}
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// PollUntil evaluates cond until it reports true, an error, or the schedule
// runs out. cond is always evaluated at least once.
func PollUntil(ctx context.Context, b Backoff, cond func(ctx context.Context) (bool, error)) error {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	attempts := 0
	operation := func() error {
		attempts++
		ok, err := cond(ctx)
		if err != nil && ctx.Err() == nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errNotYet
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(b.Exponential(), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || (errors.Is(err, errNotYet) && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempts)
	}
	if errors.Is(err, errNotYet) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
