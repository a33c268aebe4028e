package orm

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// New 创建 GORM 数据库实例
func New(cfg *Config, log logger.Logger) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	dialector, err := getDialector(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: cfg.PrepareStmt,
		Logger:      newGormLogger(log.Named("gorm"), cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if cfg.ReadWriteSplit != nil {
		if err := setupReadWriteSplit(db, cfg); err != nil {
			return nil, fmt.Errorf("failed to setup read-write split: %w", err)
		}
	}

	if cfg.Tracing {
		if err := db.Use(&tracingPlugin{withSQL: cfg.TracingSQL}); err != nil {
			return nil, fmt.Errorf("failed to register tracing plugin: %w", err)
		}
	}

	return db, nil
}

// Close 关闭底层连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDialector 根据数据库类型返回对应的 Dialector
func getDialector(dbType DBType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case MySQL:
		return mysql.Open(dsn), nil
	case PostgreSQL:
		return postgres.Open(dsn), nil
	case SQLite:
		return sqlite.Open(dsn), nil
	case SQLServer:
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// setupReadWriteSplit 配置读写分离
func setupReadWriteSplit(db *gorm.DB, cfg *Config) error {
	rwCfg := cfg.ReadWriteSplit
	if len(rwCfg.Sources) == 0 {
		return fmt.Errorf("read-write split enabled but no sources provided")
	}

	replicas := make([]gorm.Dialector, 0, len(rwCfg.Sources))
	for _, dsn := range rwCfg.Sources {
		dialector, err := getDialector(cfg.Type, dsn)
		if err != nil {
			return err
		}
		replicas = append(replicas, dialector)
	}

	var policy dbresolver.Policy = dbresolver.RandomPolicy{}
	if rwCfg.Policy == "round_robin" {
		policy = dbresolver.RoundRobinPolicy()
	}

	resolver := dbresolver.Register(dbresolver.Config{
		Replicas: replicas,
		Policy:   policy,
	}).
		SetMaxIdleConns(cfg.MaxIdleConns).
		SetMaxOpenConns(cfg.MaxOpenConns)

	return db.Use(resolver)
}
