package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryPolicy bounds how often and how patiently a payment is re-driven.
type RetryPolicy struct {
	// MaxAttempts caps submissions per payment, first attempt included.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseMs is the delay before the first retry; it doubles per attempt.
	BaseMs int64 `yaml:"base_ms"`

	// MaxMs caps the exponential delay.
	MaxMs int64 `yaml:"max_ms"`

	// MaxJitterMs bounds the deterministic jitter added to each delay.
	MaxJitterMs int64 `yaml:"max_jitter_ms"`
}

// DefaultRetryPolicy allows three attempts with a 2s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseMs: 2000, MaxMs: 30000, MaxJitterMs: 500}
}

// Delay returns the wait before the given attempt (1-based; the first attempt
// has no delay). Jitter is a PRF of the payment identity and attempt index,
// so a restarted process recomputes the identical schedule.
func (p RetryPolicy) Delay(proposalID, paymentID string, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	exp := attempt - 2
	factor := int64(1)
	if exp > 0 {
		if exp > 30 {
			exp = 30
		}
		factor = 1 << exp
	}
	delay := p.BaseMs * factor
	if delay > p.MaxMs {
		delay = p.MaxMs
	}

	return time.Duration(delay+p.jitter(proposalID, paymentID, attempt)) * time.Millisecond
}

func (p RetryPolicy) jitter(proposalID, paymentID string, attempt int) int64 {
	if p.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", proposalID, paymentID, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(p.MaxJitterMs))
}
