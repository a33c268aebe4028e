package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceTransitions(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	p := NewPresence(func() time.Time { return clock })

	rec, changed := p.Apply(1, 1)
	assert.True(t, changed)
	assert.True(t, rec.Online)
	assert.Equal(t, clock, rec.LastSeen)

	clock = clock.Add(time.Second)
	rec, changed = p.Apply(1, 2)
	assert.False(t, changed)
	assert.Equal(t, 2, rec.Count)

	clock = clock.Add(time.Second)
	_, changed = p.Apply(1, 1)
	assert.False(t, changed)

	clock = clock.Add(time.Second)
	rec, changed = p.Apply(1, 0)
	assert.True(t, changed)
	assert.False(t, rec.Online)
	assert.Equal(t, clock, rec.LastSeen)

	// 记录保留
	got, ok := p.Get(1)
	assert.True(t, ok)
	assert.False(t, got.Online)
}

func TestPresenceLastSeenMonotonic(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	p := NewPresence(func() time.Time { return clock })

	p.Apply(1, 1)
	// 时钟回拨不会让 LastSeen 后退
	clock = clock.Add(-time.Minute)
	rec := p.Touch(1)
	assert.Equal(t, time.Unix(1700000000, 0), rec.LastSeen)

	clock = time.Unix(1700000100, 0)
	rec = p.Touch(1)
	assert.Equal(t, clock, rec.LastSeen)
	assert.True(t, rec.Online, "touch does not change online state")
}

func TestPresenceSnapshot(t *testing.T) {
	p := NewPresence(nil)
	p.Apply(1, 1)
	p.Apply(2, 1)
	p.Apply(2, 0)

	entries := p.Snapshot([]int64{1, 2, 3})
	assert.Len(t, entries, 3)
	assert.True(t, entries[0].IsOnline)
	assert.NotNil(t, entries[0].LastSeen)
	assert.False(t, entries[1].IsOnline)
	assert.NotNil(t, entries[1].LastSeen)
	assert.False(t, entries[2].IsOnline)
	assert.Nil(t, entries[2].LastSeen)

	assert.Equal(t, 1, p.OnlineCount())
	assert.Equal(t, []int64{1}, p.Online())
}
