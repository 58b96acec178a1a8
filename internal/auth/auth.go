// Package auth implements the daemon's authentication gate: a
// constant-time password compare and a per-address rate limiter. The
// limiter is a discrete 60-second window that counts failed attempts
// and hard-resets on expiry, so the retry-after countdown reported to
// clients is exact. A token bucket's gradual refill cannot express that.
package auth

import (
	"crypto/subtle"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	maxAttempts = 5
	window      = 60 * time.Second
)

// Gate holds the configured password (empty means no auth required) and
// the per-address attempt ledger.
type Gate struct {
	password []byte

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	count       int
	windowStart time.Time
}

// NewGate constructs an auth Gate for the given configured password ("" =
// no password, every Connection authenticates trivially).
func NewGate(password string) *Gate {
	return &Gate{
		password: []byte(password),
		entries:  make(map[string]*entry),
	}
}

// Required reports whether a password is configured at all.
func (g *Gate) Required() bool {
	return len(g.password) > 0
}

// RateLimited is returned by Check when an address has exceeded the
// attempt budget; RetryAfter is the caller-facing countdown in seconds.
type RateLimited struct {
	RetryAfter int
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("Too many attempts. Try again in %ds", e.RetryAfter)
}

// Check evaluates a password attempt from addr at time now. It returns
// (true, nil) on success, (false, nil) on an ordinary bad password, or
// (false, *RateLimited) if the address's sliding window is exhausted —
// in which case the password is never compared.
func (g *Gate) Check(addr, attempt string) (bool, error) {
	g.mu.Lock()
	e, ok := g.entries[addr]
	if !ok {
		e = &entry{}
		g.entries[addr] = e
	}
	now := time.Now()
	if e.windowStart.IsZero() || now.Sub(e.windowStart) > window {
		e.count = 0
		e.windowStart = now
	}
	if e.count >= maxAttempts {
		remaining := window - now.Sub(e.windowStart)
		retryAfter := int(math.Ceil(remaining.Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}
		g.mu.Unlock()
		return false, &RateLimited{RetryAfter: retryAfter}
	}
	g.mu.Unlock()

	ok = Compare([]byte(attempt), g.password)

	g.mu.Lock()
	defer g.mu.Unlock()
	if ok {
		delete(g.entries, addr)
	} else {
		e.count++
	}
	return ok, nil
}

// Compare performs a constant-time comparison of attempt against want. If
// the lengths differ it still runs a full-length compare against a
// fixed-size buffer so the response time does not leak the password
// length.
func Compare(attempt, want []byte) bool {
	buf := make([]byte, len(want))
	copy(buf, attempt)
	equal := subtle.ConstantTimeCompare(buf, want) == 1
	return equal && len(attempt) == len(want)
}
