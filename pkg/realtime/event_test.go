package realtime

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/lovpulse/pkg/logger"
)

func TestPresenceEventsWaitForSaturatedBus(t *testing.T) {
	eb := NewEventBus(1, 1, nil)
	defer eb.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var handled []int64
	eb.Subscribe(EventPresenceChanged, func(e Event) {
		<-release
		mu.Lock()
		handled = append(handled, e.UserID)
		mu.Unlock()
	})

	published := make(chan struct{})
	go func() {
		defer close(published)
		for uid := int64(1); uid <= 5; uid++ {
			eb.Publish(Event{Type: EventPresenceChanged, UserID: uid})
		}
	}()

	// 超过普通事件的等待时间后再放行
	time.Sleep(250 * time.Millisecond)
	close(release)

	select {
	case <-published:
	case <-time.After(waitFor):
		t.Fatal("publish still blocked")
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 5
	}, waitFor, tick)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, handled)
	assert.Zero(t, eb.DroppedEvents())
}

func TestPresencePublishReturnsWhenBusCloses(t *testing.T) {
	eb := NewEventBus(1, 1, nil)

	block := make(chan struct{})
	eb.Subscribe(EventPresenceChanged, func(Event) { <-block })
	eb.Publish(Event{Type: EventPresenceChanged, UserID: 1})
	eb.Publish(Event{Type: EventPresenceChanged, UserID: 2})

	published := make(chan struct{})
	go func() {
		defer close(published)
		eb.Publish(Event{Type: EventPresenceChanged, UserID: 3})
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		eb.Close()
	}()
	select {
	case <-published:
	case <-time.After(waitFor):
		t.Fatal("publish not released by close")
	}
	close(block)
	<-closed
}

func TestDroppedEventsAreLogged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	log, err := logger.NewWithOptions(logger.WithFileOutput(path))
	require.NoError(t, err)

	eb := NewEventBus(1, 1, log)
	block := make(chan struct{})
	eb.Subscribe(EventConnected, func(Event) { <-block })

	// 一个在处理、一个在队列，第三个等待超时后丢弃
	for uid := int64(7); uid <= 9; uid++ {
		eb.Publish(Event{Type: EventConnected, UserID: uid})
	}
	close(block)
	eb.Close()
	require.NoError(t, log.Sync())

	assert.Equal(t, int64(1), eb.DroppedEvents())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "event dropped")
	assert.Contains(t, string(data), `"uid":9`)
	assert.Contains(t, string(data), `"event":"conn.connected"`)
}
