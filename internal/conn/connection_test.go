package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/termaway/termawayd/internal/session"
)

func TestStripIPv4Prefix(t *testing.T) {
	assert.Equal(t, "192.168.1.5", stripIPv4Prefix("192.168.1.5:52011"))
	assert.Equal(t, "192.168.1.5", stripIPv4Prefix("[::ffff:192.168.1.5]:52011"))
	assert.Equal(t, "2001:db8::1", stripIPv4Prefix("[2001:db8::1]:443"))
	assert.Equal(t, "127.0.0.1", stripIPv4Prefix("127.0.0.1"))
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1"))
	assert.True(t, isLoopback("::1"))
	assert.False(t, isLoopback("192.168.1.5"))
	assert.False(t, isLoopback("not-an-ip"))
}

func TestSessionErrorMessages(t *testing.T) {
	assert.Equal(t, "Invalid session name", sessionErrorMessage(session.ErrInvalidName))
	assert.Equal(t, "Session already exists", sessionErrorMessage(session.ErrAlreadyExists))
	assert.Equal(t, "Session not found", sessionErrorMessage(session.ErrNotFound))
	assert.Equal(t, "Session disconnected", sessionErrorMessage(session.ErrDisconnected))
}
