package orm

import "time"

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Type DBType `mapstructure:"type"` // 数据库类型: mysql, postgres, sqlite, sqlserver
	DSN  string `mapstructure:"dsn"`  // 数据源名称

	// 连接池配置
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// GORM 配置
	PrepareStmt bool `mapstructure:"prepare_stmt"`

	// 日志配置
	LogLevel      int           `mapstructure:"log_level"`      // 1:Silent 2:Error 3:Warn 4:Info
	SlowThreshold time.Duration `mapstructure:"slow_threshold"` // 慢查询阈值

	// 链路追踪
	Tracing    bool `mapstructure:"tracing"`
	TracingSQL bool `mapstructure:"tracing_sql"` // span 中记录完整 SQL

	// 读写分离配置（可选）
	ReadWriteSplit *ReadWriteSplitConfig `mapstructure:"read_write_split"`
}

// ReadWriteSplitConfig 读写分离配置
type ReadWriteSplitConfig struct {
	Sources []string `mapstructure:"sources"` // 从库 DSN 列表（只读）
	Policy  string   `mapstructure:"policy"`  // random(随机), round_robin(轮询)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:            PostgreSQL,
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		PrepareStmt:     true,
		LogLevel:        3, // Warn
		SlowThreshold:   200 * time.Millisecond,
	}
}
