// Package backoff defines the retry policy shared by connector execution and
// webhook delivery: a bounded number of attempts with either a fixed or an
// exponentially growing delay between them.
package backoff

import "time"

// Policy describes how an operation is retried after a failed attempt.
type Policy struct {
	// MaxRetryAttempts is the number of retries after the first attempt.
	// An operation therefore runs at most MaxRetryAttempts+1 times.
	MaxRetryAttempts int `json:"max_retry_attempts"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay"`

	// Exponential doubles the delay on every subsequent retry when true;
	// otherwise every retry waits BaseDelay.
	Exponential bool `json:"exponential"`
}

// Default is the policy applied when a connector or subscription carries none.
var Default = Policy{
	MaxRetryAttempts: 3,
	BaseDelay:        5 * time.Second,
	Exponential:      true,
}

// None is a single attempt with no retries. Distinct from the zero Policy,
// which OrDefault treats as unset.
var None = Policy{MaxRetryAttempts: -1}

// MaxAttempts returns the total number of attempts the policy allows,
// including the first.
func (p Policy) MaxAttempts() int {
	if p.MaxRetryAttempts < 0 {
		return 1
	}
	return p.MaxRetryAttempts + 1
}

// Delay returns the wait before retry k (1-based). Fixed policies always
// return BaseDelay; exponential policies return BaseDelay * 2^(k-1).
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if !p.Exponential {
		return p.BaseDelay
	}
	return p.BaseDelay << uint(retry-1)
}

// OrDefault returns the policy itself when usable, or Default when the
// policy is zero-valued (unset). A deliberate no-retry policy is spelled
// None, which passes through unchanged.
func (p Policy) OrDefault() Policy {
	if p.MaxRetryAttempts == 0 && p.BaseDelay == 0 {
		return Default
	}
	return p
}
