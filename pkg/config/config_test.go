package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/lovpulse/pkg/errors"
)

const testYAML = `
server:
  addr: ":3000"
  debug: true
realtime:
  heartbeat_interval: 30s
  max_connections: 100
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

type testConfig struct {
	Server struct {
		Addr  string `mapstructure:"addr"`
		Debug bool   `mapstructure:"debug"`
	} `mapstructure:"server"`
	Realtime struct {
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		MaxConnections    int           `mapstructure:"max_connections"`
		RateLimit         int           `mapstructure:"rate_limit"`
	} `mapstructure:"realtime"`
}

func TestLoadAndUnmarshal(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "lovpulse.yaml", testYAML)

	c := New(
		WithConfigFile(path),
		WithDefaults(map[string]any{"realtime.rate_limit": 15}),
	)
	require.NoError(t, c.Load())

	var cfg testConfig
	require.NoError(t, c.Unmarshal(&cfg))
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 100, cfg.Realtime.MaxConnections)
	assert.Equal(t, 15, cfg.Realtime.RateLimit)
	assert.Equal(t, path, c.ConfigFileUsed())
}

func TestLoadWithNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "lovpulse.yaml", testYAML)

	c := New(WithConfigName("lovpulse"), WithConfigType("yaml"), WithConfigPaths(dir))
	require.NoError(t, c.Load())
	assert.Equal(t, ":3000", c.GetString("server.addr"))
	assert.Equal(t, 100, c.GetInt("realtime.max_connections"))
	assert.Equal(t, 30*time.Second, c.GetDuration("realtime.heartbeat_interval"))
}

func TestConfigFileNotFound(t *testing.T) {
	c := New(WithConfigName("missing"), WithConfigPaths(t.TempDir()))
	err := c.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestOptionalConfigFile(t *testing.T) {
	c := New(
		WithConfigName("missing"),
		WithConfigPaths(t.TempDir()),
		WithOptional(true),
		WithDefaults(map[string]any{"server.addr": ":8080"}),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, ":8080", c.GetString("server.addr"))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("LOVPULSE_SERVER_DEBUG", "false")
	path := writeTestConfig(t, t.TempDir(), "lovpulse.yaml", testYAML)

	c := New(
		WithConfigFile(path),
		WithEnvPrefix("LOVPULSE"),
		WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	)
	require.NoError(t, c.Load())
	assert.False(t, c.GetBool("server.debug"))
}

func TestWatchOnChange(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "lovpulse.yaml", testYAML)

	changed := make(chan struct{}, 4)
	c := New(
		WithConfigFile(path),
		WithAutoWatch(true),
		WithOnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
	)
	require.NoError(t, c.Load())
	defer c.Close()
	assert.True(t, c.IsWatching())

	// fsnotify 需要短暂时间完成注册
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(testYAML+"\n  rate_limit: 30\n"), 0644))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}
	assert.Equal(t, 30, c.GetInt("realtime.rate_limit"))
}

func TestStopWatch(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "lovpulse.yaml", testYAML)
	c := New(WithConfigFile(path))
	require.NoError(t, c.Load())

	c.StartWatch()
	assert.True(t, c.IsWatching())
	c.StopWatch()
	assert.False(t, c.IsWatching())
}

func TestWatchDebounce(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "lovpulse.yaml", testYAML)

	var calls atomic.Int32
	c := New(
		WithConfigFile(path),
		WithAutoWatch(true),
		WithDebounce(500*time.Millisecond),
		WithOnChange(func() { calls.Add(1) }),
	)
	require.NoError(t, c.Load())
	defer c.Close()

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(testYAML+"\n  rate_limit: 3"+strconv.Itoa(i)+"\n"), 0644))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 32, c.GetInt("realtime.rate_limit"))
}
