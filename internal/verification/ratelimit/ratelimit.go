// Package ratelimit throttles verification resends per normalized email.
package ratelimit

import "time"

// Result reports a throttling decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

const keyPrefix = "verification:resend:"

// Key builds the limiter key for a normalized email.
func Key(normalizedEmail string) string {
	return keyPrefix + normalizedEmail
}
