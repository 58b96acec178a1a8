package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareConstantTime(t *testing.T) {
	assert.True(t, Compare([]byte("secret"), []byte("secret")))
	assert.False(t, Compare([]byte("secret"), []byte("wrong!")))
	assert.False(t, Compare([]byte("short"), []byte("muchlongerpassword")))
	assert.False(t, Compare([]byte("muchlongerpassword"), []byte("short")))
	assert.True(t, Compare([]byte(""), []byte("")))
}

func TestGateNoPasswordConfigured(t *testing.T) {
	g := NewGate("")
	assert.False(t, g.Required())
}

func TestGateSuccessClearsAttempts(t *testing.T) {
	g := NewGate("hunter2")
	ok, err := g.Check("1.2.3.4", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Check("1.2.3.4", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	g.mu.Lock()
	_, exists := g.entries["1.2.3.4"]
	g.mu.Unlock()
	assert.False(t, exists, "a successful auth must clear the address's attempt entry")
}

func TestGateRateLimitsAfterFiveFailures(t *testing.T) {
	g := NewGate("hunter2")
	for i := 0; i < 5; i++ {
		ok, err := g.Check("5.6.7.8", "wrong")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	_, err := g.Check("5.6.7.8", "hunter2")
	var rl *RateLimited
	require.True(t, errors.As(err, &rl), "sixth attempt must be rate limited even with the correct password")
	assert.Greater(t, rl.RetryAfter, 0)
	assert.LessOrEqual(t, rl.RetryAfter, 60)
}

func TestGateRateLimitIsPerAddress(t *testing.T) {
	g := NewGate("hunter2")
	for i := 0; i < 5; i++ {
		_, _ = g.Check("9.9.9.9", "wrong")
	}
	ok, err := g.Check("1.1.1.1", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)
}
