package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// startWatch 调用方必须持有 mu
func (c *Config) startWatch() {
	if c.viper.ConfigFileUsed() == "" {
		return
	}
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Remove) {
			fmt.Fprintf(os.Stderr, "[config] config file removed: %s\n", e.Name)
			return
		}
		c.schedule()
	})
	c.viper.WatchConfig()
	c.watching = true
}

// schedule 编辑器保存通常产生多次写事件，合并为一次回调
func (c *Config) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.watching || c.onChange == nil {
		return
	}
	d := c.debounce
	if d <= 0 {
		d = defaultDebounce
	}
	if c.pending != nil {
		c.pending.Reset(d)
		return
	}
	c.pending = time.AfterFunc(d, c.fire)
}

func (c *Config) fire() {
	c.mu.Lock()
	c.pending = nil
	onChange := c.onChange
	watching := c.watching
	c.mu.Unlock()

	if watching && onChange != nil {
		onChange()
	}
}

// StartWatch 开始监控配置文件，重复调用无副作用
func (c *Config) StartWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.watching {
		c.startWatch()
	}
}

// StopWatch 停止回调
// viper 不支持关闭底层 fsnotify watcher，这里只让回调失效
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}
