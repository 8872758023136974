package gateway

import (
	"context"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is an in-process provider for test mode and local development.
// Charges succeed unless a failure rate or a scripted outcome says otherwise.
// Repeated idempotency keys replay the first accepted outcome.
type MockProvider struct {
	mu          sync.Mutex
	failureRate float64
	scripted    []Outcome
	accepted    map[string]Outcome
	calls       []ChargeRequest
	rng         *rand.Rand
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		accepted: make(map[string]Outcome),
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
}

// SetFailureRate sets the probability in [0,1] that an unscripted charge is declined
func (m *MockProvider) SetFailureRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureRate = rate
}

func (m *MockProvider) FailureRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureRate
}

// Enqueue scripts the outcomes of the next charges, in order
func (m *MockProvider) Enqueue(outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, outcomes...)
}

// Calls returns every charge request received so far
func (m *MockProvider) Calls() []ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChargeRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) Charge(ctx context.Context, req ChargeRequest) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if err := ctx.Err(); err != nil {
		return Failed(ErrorKindTimeout, err.Error())
	}
	if req.IdempotencyKey != "" {
		if out, ok := m.accepted[req.IdempotencyKey]; ok {
			return out
		}
	}

	var out Outcome
	switch {
	case len(m.scripted) > 0:
		out = m.scripted[0]
		m.scripted = m.scripted[1:]
		if out.IsAccepted() && out.Reference == "" {
			out.Reference = newReference("charge")
		}
	case !req.Amount.IsPositive():
		out = Declined("Invalid charge amount.")
	case m.rng.Float64() < m.failureRate:
		out = Declined("Payment provider declined the charge.")
	default:
		out = Accepted(newReference("charge"))
	}

	if out.IsAccepted() && req.IdempotencyKey != "" {
		m.accepted[req.IdempotencyKey] = out
	}
	return out
}

// CreatePaymentIntent always asks for customer action
func (m *MockProvider) CreatePaymentIntent(_ context.Context, _ ChargeRequest) (*PaymentIntent, error) {
	return &PaymentIntent{ID: newReference("pi"), Status: "requires_action"}, nil
}

func newReference(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:14]
}
