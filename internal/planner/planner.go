// Package planner splits an order total into three installments.
package planner

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wpshiftstudio/payin3/internal/models"
)

var ErrInvalidTotal = errors.New("order total must be positive")

// ErrTotalPrecision is returned for totals finer than the currency's minor unit
var ErrTotalPrecision = errors.New("order total has more decimal places than the currency allows")

var (
	three = decimal.NewFromInt(3)
	two   = decimal.NewFromInt(2)
)

// Planner computes installment amounts and due dates
type Planner struct {
	SecondOffset time.Duration
	ThirdOffset  time.Duration
	GatewayID    string

	newID func() string
}

func New(secondOffset, thirdOffset time.Duration, gatewayID string) *Planner {
	return &Planner{
		SecondOffset: secondOffset,
		ThirdOffset:  thirdOffset,
		GatewayID:    gatewayID,
		newID:        func() string { return uuid.New().String() },
	}
}

// Split returns the three amounts for total. The first two are rounded to
// minor units and the third absorbs the remainder, so they always sum to total.
func Split(total models.Money) [models.InstallmentCount]models.Money {
	total = total.Round(models.MinorUnits)
	first := total.Div(three).Round(models.MinorUnits)
	remaining := total.Sub(first)
	second := remaining.Div(two).Round(models.MinorUnits)
	third := remaining.Sub(second)
	return [models.InstallmentCount]models.Money{first, second, third}
}

// Plan builds an active subscription for the order with its three
// installments. The first is due at now; all start pending.
func (p *Planner) Plan(orderID, customerID string, total models.Money, now time.Time) (*models.Plan, error) {
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTotal, total.String())
	}
	if !total.Equal(total.Round(models.MinorUnits)) {
		return nil, fmt.Errorf("%w: %s", ErrTotalPrecision, total.String())
	}
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	sub := models.Subscription{
		ID:               p.newID(),
		OrderID:          orderID,
		CustomerID:       customerID,
		Status:           models.SubscriptionStatusActive,
		PaymentGatewayID: p.GatewayID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	amounts := Split(total)
	dueDates := [models.InstallmentCount]time.Time{now, now.Add(p.SecondOffset), now.Add(p.ThirdOffset)}

	plan := &models.Plan{Subscription: sub}
	for i := range amounts {
		plan.Installments = append(plan.Installments, models.Installment{
			ID:             p.newID(),
			SubscriptionID: sub.ID,
			OrderID:        orderID,
			Amount:         amounts[i],
			DueDate:        dueDates[i],
			Status:         models.InstallmentStatusPending,
		})
	}
	return plan, nil
}
