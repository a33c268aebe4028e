package tracing

import (
	"fmt"
	"slices"
	"time"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// ErrInvalidConfig 追踪配置非法
var ErrInvalidConfig = errors.New(3201, 500, "tracing invalid config", nil)

var exporters = []string{"otlp", "otlpgrpc", "stdout", "noop"}

// Config 链路追踪配置
type Config struct {
	Enabled bool `mapstructure:"enabled"` // 关闭时使用 noop 导出器，传播器仍然生效

	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Environment    string            `mapstructure:"environment"`
	Attributes     map[string]string `mapstructure:"resource_attributes"`

	ExporterType     string            `mapstructure:"exporter"` // otlp, otlpgrpc, stdout, noop
	ExporterEndpoint string            `mapstructure:"endpoint"`
	ExporterHeaders  map[string]string `mapstructure:"headers"`
	Insecure         bool              `mapstructure:"insecure"`

	// 每条帧都会产生 span，生产环境应按比例采样
	SamplingType string  `mapstructure:"sampling_type"` // always, never, ratio, parent_based
	SamplingRate float64 `mapstructure:"sampling_rate"`

	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
}

// DefaultConfig 默认关闭，开启后按 10% 采样导出到 OTLP HTTP
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "lovpulse",
		ServiceVersion:     "1.0.0",
		Environment:        "production",
		ExporterType:       "otlp",
		SamplingType:       "parent_based",
		SamplingRate:       0.1,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidConfig)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w: sampling rate must be between 0 and 1", ErrInvalidConfig)
	}
	if !slices.Contains(exporters, c.ExporterType) {
		return fmt.Errorf("%w: unsupported exporter %q", ErrInvalidConfig, c.ExporterType)
	}
	return nil
}
