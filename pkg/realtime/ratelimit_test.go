package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiterCeiling(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewRateLimiter(15, time.Minute, clock.now)

	for i := 0; i < 15; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d", i+1)
		clock.advance(time.Second)
	}
	assert.False(t, l.Allow("10.0.0.1"), "16th attempt within the window")
	assert.True(t, l.Allow("10.0.0.2"), "other addresses are independent")

	// 第一次尝试 60 秒之后重新放行
	clock.t = time.Unix(1700000000, 0).Add(time.Minute)
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestRateLimiterRejectedNotRecorded(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewRateLimiter(3, time.Minute, clock.now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"))
	}
	// 窗口内持续被拒绝的尝试不会延长封禁
	for i := 0; i < 10; i++ {
		clock.advance(5 * time.Second)
		assert.False(t, l.Allow("a"))
	}
	clock.t = time.Unix(1700000000, 0).Add(time.Minute)
	assert.True(t, l.Allow("a"))
}

func TestRateLimiterSweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewRateLimiter(5, time.Minute, clock.now)

	l.Allow("a")
	clock.advance(30 * time.Second)
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	clock.advance(31 * time.Second)
	assert.Equal(t, 1, l.Sweep())

	clock.advance(time.Minute)
	assert.Equal(t, 0, l.Sweep())
	assert.Equal(t, 0, l.Len())
}

func TestRateLimiterSetLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewRateLimiter(1, time.Minute, clock.now)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	l.SetLimit(2)
	assert.Equal(t, 2, l.Limit())
	assert.True(t, l.Allow("a"))

	l.SetLimit(0)
	assert.Equal(t, 2, l.Limit(), "non-positive limit ignored")
}
