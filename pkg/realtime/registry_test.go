package realtime

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/lovpulse/pkg/errors"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(0)
	a, b := &Conn{}, &Conn{}

	added, count, err := r.Register(1, a)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, count)

	// 同一连接重复登记不增加计数
	added, count, err = r.Register(1, a)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, count)

	_, count, _ = r.Register(1, b)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, r.Count(1))
	assert.ElementsMatch(t, []*Conn{a, b}, r.Connections(1))
	assert.Equal(t, 1, r.UserCount())
	assert.Equal(t, 2, r.ConnCount())
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(0)
	a, b := &Conn{}, &Conn{}
	_, _, _ = r.Register(7, a)
	_, _, _ = r.Register(7, b)

	removed, uid, remaining := r.Unregister(a)
	assert.True(t, removed)
	assert.Equal(t, int64(7), uid)
	assert.Equal(t, 1, remaining)

	removed, _, remaining = r.Unregister(b)
	assert.True(t, removed)
	assert.Equal(t, 0, remaining)

	// 集合为空时条目被删除
	assert.Empty(t, r.Users())
	assert.Empty(t, r.Connections(7))
	assert.Equal(t, 0, r.UserCount())

	removed, _, _ = r.Unregister(a)
	assert.False(t, removed)

	peak, total := r.Peak()
	assert.Equal(t, 2, peak)
	assert.Equal(t, int64(2), total)
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry(2)
	_, _, err := r.Register(1, &Conn{})
	require.NoError(t, err)
	_, _, err = r.Register(2, &Conn{})
	require.NoError(t, err)

	_, _, err = r.Register(3, &Conn{})
	assert.True(t, errors.Is(err, errors.ErrTooManyConns))
	assert.Equal(t, 0, r.Count(3))
	assert.Equal(t, 2, r.ConnCount())
	assert.Len(t, r.All(), 2)
}

// 任意注册/注销序列下，在线状态恒等于连接数 > 0
func TestPresenceFollowsRegistry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	clock := time.Unix(1700000000, 0)
	now := func() time.Time { return clock }

	r := NewRegistry(0)
	p := NewPresence(now)

	const uid = int64(9)
	var open []*Conn
	var lastSeen time.Time

	for i := 0; i < 500; i++ {
		clock = clock.Add(time.Duration(rng.Intn(3)) * time.Second)

		if len(open) == 0 || rng.Intn(2) == 0 {
			c := &Conn{}
			// 偶尔重复登记同一连接
			if len(open) > 0 && rng.Intn(4) == 0 {
				c = open[rng.Intn(len(open))]
			} else {
				open = append(open, c)
			}
			_, count, err := r.Register(uid, c)
			require.NoError(t, err)
			p.Apply(uid, count)
		} else {
			idx := rng.Intn(len(open))
			c := open[idx]
			open = append(open[:idx], open[idx+1:]...)
			_, _, remaining := r.Unregister(c)
			p.Apply(uid, remaining)
		}

		rec, ok := p.Get(uid)
		require.True(t, ok)
		assert.Equal(t, len(open), r.Count(uid))
		assert.Equal(t, r.Count(uid), rec.Count)
		assert.Equal(t, r.Count(uid) > 0, rec.Online)
		assert.False(t, rec.LastSeen.Before(lastSeen), "last seen went backwards")
		lastSeen = rec.LastSeen
	}
}
