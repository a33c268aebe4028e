package logger

import "go.uber.org/zap/zapcore"

// Level 日志级别
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// ParseLevel 解析配置中的级别字符串，未知值返回 InfoLevel
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Format 输出格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

// IsValid 检查格式是否有效
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// Config 日志配置
type Config struct {
	Level  Level  `mapstructure:"-"`
	Format Format `mapstructure:"format"` // json/console，默认 json

	Console bool          `mapstructure:"console"` // 输出到标准输出
	File    string        `mapstructure:"file"`    // 不轮转的文件输出
	Rotate  *RotateConfig `mapstructure:"rotate"`  // nil 则不轮转

	// 帧级日志量大，生产环境建议开启
	Sampling *SamplingConfig `mapstructure:"sampling"`

	EnableCaller     bool `mapstructure:"enable_caller"`
	EnableStacktrace bool `mapstructure:"enable_stacktrace"` // Error 及以上
	Development      bool `mapstructure:"development"`       // DPanic 会 panic

	EncoderConfig *zapcore.EncoderConfig `mapstructure:"-"`
}

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}

// RotateConfig 文件轮转配置（lumberjack）
type RotateConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // MB，默认 100
	MaxAge     int    `mapstructure:"max_age"`     // 天，默认 30
	MaxBackups int    `mapstructure:"max_backups"` // 默认 10
	Compress   bool   `mapstructure:"compress"`
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
}

// SamplingConfig 每秒同一消息前 Initial 条必记，之后每 Thereafter 条记 1 条
type SamplingConfig struct {
	Initial    int `mapstructure:"initial"`
	Thereafter int `mapstructure:"thereafter"`
}

func (s *SamplingConfig) setDefaults() {
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}

// Option 配置选项
type Option func(*Config)

func WithLevel(level Level) Option       { return func(c *Config) { c.Level = level } }
func WithFormat(format Format) Option    { return func(c *Config) { c.Format = format } }
func WithFileOutput(path string) Option  { return func(c *Config) { c.File = path } }
func WithDevelopment(enable bool) Option { return func(c *Config) { c.Development = enable } }

// WithRotateOutput 按大小轮转写入文件
func WithRotateOutput(rc *RotateConfig) Option {
	return func(c *Config) { c.Rotate = rc }
}

// WithSampling 开启采样
func WithSampling(sc *SamplingConfig) Option {
	return func(c *Config) { c.Sampling = sc }
}
