package session

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultMaxReconnectAttempts bounds automatic reconnects after an unexpected close.
	DefaultMaxReconnectAttempts = 5

	// DefaultReconnectBaseDelay is multiplied by the attempt number to get the backoff.
	DefaultReconnectBaseDelay = 1 * time.Second
)

// PolicyState is the state of the reconnection policy.
type PolicyState int

const (
	PolicyIdle PolicyState = iota
	PolicyAttempting
	PolicyGivenUp
)

// String returns the string representation of a PolicyState.
func (s PolicyState) String() string {
	switch s {
	case PolicyIdle:
		return "idle"
	case PolicyAttempting:
		return "attempting"
	case PolicyGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// ReconnectPolicy decides whether and when to re-establish a dropped connection.
// Backoff is linear: attempt n waits BaseDelay × n. It is not safe for concurrent use;
// the Manager only touches it from its run loop.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	backoff  retry.Backoff
	attempts int
	state    PolicyState
}

// NewReconnectPolicy returns an idle policy.
func NewReconnectPolicy(maxAttempts int, baseDelay time.Duration) *ReconnectPolicy {
	p := &ReconnectPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
	p.Reset()
	return p
}

// linearBackoff returns BaseDelay × n on its n-th call, capped at MaxAttempts calls.
func (p *ReconnectPolicy) linearBackoff() retry.Backoff {
	maxAttempts := uint64(max(p.MaxAttempts, 0))

	return retry.WithMaxRetries(maxAttempts, retry.BackoffFunc(func() (time.Duration, bool) {
		p.attempts++
		return p.BaseDelay * time.Duration(p.attempts), false
	}))
}

// Next records one more reconnect attempt and returns its delay.
// It returns false once MaxAttempts attempts have been made or the policy was suppressed,
// leaving the policy in PolicyGivenUp.
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	if p.state == PolicyGivenUp {
		return 0, false
	}

	delay, stop := p.backoff.Next()
	if stop {
		p.state = PolicyGivenUp
		return 0, false
	}

	p.state = PolicyAttempting
	return delay, true
}

// Reset returns the policy to idle after a successful open or a fresh manual connect.
func (p *ReconnectPolicy) Reset() {
	p.attempts = 0
	p.backoff = p.linearBackoff()
	p.state = PolicyIdle
}

// Suppress stops all further reconnects until the next Reset.
func (p *ReconnectPolicy) Suppress() {
	p.state = PolicyGivenUp
}

// Attempts returns the number of attempts made since the last Reset.
func (p *ReconnectPolicy) Attempts() int {
	return p.attempts
}

// State returns the current policy state.
func (p *ReconnectPolicy) State() PolicyState {
	return p.state
}
