package config

import (
	"strings"
	"time"
)

// Option 配置选项
type Option func(*Config)

// WithConfigFile 指定配置文件完整路径，优先于名称与搜索路径
func WithConfigFile(path string) Option { return func(c *Config) { c.configFile = path } }

// WithConfigName 配置文件名（不含扩展名），配合 WithConfigPaths 查找
func WithConfigName(name string) Option { return func(c *Config) { c.configName = name } }

func WithConfigType(typ string) Option       { return func(c *Config) { c.configType = typ } }
func WithConfigPaths(paths ...string) Option { return func(c *Config) { c.configPaths = paths } }

// WithOptional 找不到配置文件时只用默认值与环境变量
func WithOptional(optional bool) Option { return func(c *Config) { c.optional = optional } }

func WithDefaults(defaults map[string]any) Option { return func(c *Config) { c.defaults = defaults } }

// WithEnvPrefix 环境变量前缀，如 LOVPULSE_REALTIME_RATE_LIMIT
func WithEnvPrefix(prefix string) Option { return func(c *Config) { c.envPrefix = prefix } }

func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) { c.envKeyReplacer = r }
}

// WithAutoWatch Load 成功后开始监控配置文件
func WithAutoWatch(watch bool) Option { return func(c *Config) { c.autoWatch = watch } }

// WithOnChange 配置文件变更回调，回调内自行 Unmarshal 读取新值
func WithOnChange(fn func()) Option { return func(c *Config) { c.onChange = fn } }

// WithDebounce 合并窗口，窗口内的多次写入只回调一次，默认 200ms
func WithDebounce(d time.Duration) Option { return func(c *Config) { c.debounce = d } }
