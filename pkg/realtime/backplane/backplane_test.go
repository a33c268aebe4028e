package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeEncodeDecode(t *testing.T) {
	env := &Envelope{
		ID:     "e1",
		Origin: "node-a",
		Target: Target{Users: []int64{1, 2}},
		Frame:  json.RawMessage(`{"type":"NEW_MESSAGE"}`),
		SentAt: time.Unix(1700000000, 0).UTC(),
	}
	data, err := env.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Origin, got.Origin)
	assert.Equal(t, []int64{1, 2}, got.Target.Users)
	assert.False(t, got.Target.All)
	assert.JSONEq(t, `{"type":"NEW_MESSAGE"}`, string(got.Frame))

	_, err = Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestMemoryBus(t *testing.T) {
	bus := NewMemoryBus()
	a, b := bus.Node(), bus.Node()

	var mu sync.Mutex
	received := map[string][]string{}
	record := func(name string) Handler {
		return func(_ context.Context, env *Envelope) {
			mu.Lock()
			received[name] = append(received[name], env.ID)
			mu.Unlock()
		}
	}
	require.NoError(t, a.Subscribe(context.Background(), record("a")))
	require.NoError(t, b.Subscribe(context.Background(), record("b")))

	require.NoError(t, a.Publish(context.Background(), &Envelope{ID: "m1", Origin: "a"}))
	assert.Equal(t, []string{"m1"}, received["a"])
	assert.Equal(t, []string{"m1"}, received["b"])

	require.NoError(t, b.Close())
	require.NoError(t, a.Publish(context.Background(), &Envelope{ID: "m2", Origin: "a"}))
	assert.Equal(t, []string{"m1", "m2"}, received["a"])
	assert.Equal(t, []string{"m1"}, received["b"])
	assert.Equal(t, "memory", a.Name())
}

func TestDedupe(t *testing.T) {
	d := NewDedupe(4, 0.001, time.Minute)

	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))

	// 写满一代后，上一代的记录仍可识别
	assert.False(t, d.Seen("c"))
	assert.False(t, d.Seen("d"))
	assert.True(t, d.Seen("a"))
	assert.True(t, d.Seen("d"))

	// 再轮换一代后最早的记录被淘汰
	for i := 0; i < 4; i++ {
		d.Seen(fmt.Sprintf("x%d", i))
	}
	assert.True(t, d.Seen("x3"))
	assert.False(t, d.Seen("a"))
}

func TestDedupeNeverDropsUniqueIDs(t *testing.T) {
	d := NewDedupe(0, 0, 0)

	ids := make([]string, 200_000)
	dropped := 0
	for i := range ids {
		ids[i] = uuid.NewString()
		if d.Seen(ids[i]) {
			dropped++
		}
	}
	assert.Zero(t, dropped)

	// 仍在窗口内的 ID 重复到达时被识别
	assert.True(t, d.Seen(ids[len(ids)-1]))
}

func TestDedupeExpiredIDsAreRedelivered(t *testing.T) {
	d := NewDedupe(1_000, 0.5, 20*time.Millisecond)

	assert.False(t, d.Seen("m1"))
	assert.True(t, d.Seen("m1"))
	time.Sleep(40 * time.Millisecond)
	assert.False(t, d.Seen("m1"))
}

func TestNewConfig(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.Enabled())
	assert.False(t, (&Config{Driver: DriverNone}).Enabled())

	_, err := New(context.Background(), &Config{}, nil)
	assert.Error(t, err)

	bp, err := New(context.Background(), &Config{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", bp.Name())

	_, err = New(context.Background(), &Config{Driver: DriverRedis}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), &Config{Driver: "zeromq"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), &Config{Driver: DriverKafka}, nil)
	assert.Error(t, err)
}
