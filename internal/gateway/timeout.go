package gateway

import (
	"context"
	"time"
)

// TimeoutGateway bounds every Charge call. A call that outlives the budget
// yields an Error(timeout) outcome even if the wrapped gateway ignores ctx.
type TimeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

func WithTimeout(next Gateway, timeout time.Duration) *TimeoutGateway {
	return &TimeoutGateway{next: next, timeout: timeout}
}

func (g *TimeoutGateway) Charge(ctx context.Context, req ChargeRequest) Outcome {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		done <- g.next.Charge(ctx, req)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return Failed(ErrorKindTimeout, "charge timed out after "+g.timeout.String())
	}
}
