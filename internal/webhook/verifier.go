// Package webhook authenticates provider callbacks and drops replays.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wpshiftstudio/payin3/internal/logger"
)

// Verdict is the result of checking one webhook delivery
type Verdict string

const (
	VerdictAccepted         Verdict = "accepted"
	VerdictSignatureInvalid Verdict = "signature_invalid"
	VerdictDuplicate        Verdict = "duplicate"
)

// DefaultWindow is how long an idempotency token is remembered
const DefaultWindow = 300 * time.Second

var ErrNoSecret = errors.New("webhook secret is not configured")

// IdempotencyStore remembers tokens for a fixed window
type IdempotencyStore interface {
	// Reserve records key for window unless a live record already exists.
	// It reports whether this call created the record. The check and the
	// insert are one atomic step.
	Reserve(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Verifier checks HMAC signatures and idempotency tokens
type Verifier struct {
	secret []byte
	window time.Duration
	store  IdempotencyStore
	logger *logger.Logger
}

func NewVerifier(secret string, window time.Duration, store IdempotencyStore, log *logger.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Verifier{secret: []byte(secret), window: window, store: store, logger: log}, nil
}

// VerifyAndDedupe authenticates body against signature, then consults the
// idempotency record for token. Nothing is recorded for an invalid signature.
// An error means the idempotency store could not be reached.
func (v *Verifier) VerifyAndDedupe(ctx context.Context, body []byte, signature, token string) (Verdict, error) {
	if !v.validSignature(body, signature) {
		v.logger.Error("Webhook signature verification failed.", "has_signature", signature != "")
		return VerdictSignatureInvalid, nil
	}

	key := SanitizeKey(token)
	if key == "" {
		v.logger.Warn("Webhook received without an idempotency key. Processing without replay protection.")
		return VerdictAccepted, nil
	}

	created, err := v.store.Reserve(ctx, key, v.window)
	if err != nil {
		return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if !created {
		v.logger.Info(fmt.Sprintf("Duplicate webhook event ignored: %s", key))
		return VerdictDuplicate, nil
	}
	return VerdictAccepted, nil
}

func (v *Verifier) validSignature(body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, computeMAC(v.secret, body)) == 1
}

func computeMAC(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the hex HMAC-SHA256 of body, the value senders put in the
// signature header.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(computeMAC([]byte(secret), body))
}

// SanitizeKey lowercases key and keeps only ASCII letters, digits, dashes and
// underscores.
func SanitizeKey(key string) string {
	key = strings.ToLower(key)
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Logger returns the logger the verifier writes security events to
func (v *Verifier) Logger() *logger.Logger {
	return v.logger
}
