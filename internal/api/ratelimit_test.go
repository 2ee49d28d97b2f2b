package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "clients are counted separately")
	assert.Equal(t, 61, rl.RetryAfter("a"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.Equal(t, 0, rl.RetryAfter("unknown"))
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }
	rl.Allow("a")
	now = now.Add(90 * time.Second)
	rl.Allow("b")
	now = now.Add(50 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
	assert.False(t, rl.Allow("b"))
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", clientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientKey(r))
}
