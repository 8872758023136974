// Package aggregator derives subscription-level state from installments.
package aggregator

import (
	"context"
	"fmt"
)

// UnpaidCounter is the slice of the ledger the aggregator reads
type UnpaidCounter interface {
	CountUnpaid(ctx context.Context, subscriptionID string) (int, error)
}

type Aggregator struct {
	store UnpaidCounter
}

func New(store UnpaidCounter) *Aggregator {
	return &Aggregator{store: store}
}

// AllPaid reports whether no installment of the subscription is in a status
// other than paid. It has no side effects.
func (a *Aggregator) AllPaid(ctx context.Context, subscriptionID string) (bool, error) {
	n, err := a.store.CountUnpaid(ctx, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("failed to check installments of %s: %w", subscriptionID, err)
	}
	return n == 0, nil
}
