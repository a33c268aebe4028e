package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LastSeenConfig 最后在线时间写入配置
type LastSeenConfig struct {
	Table  string `mapstructure:"table"`
	Column string `mapstructure:"column"`
}

// LastSeen 将用户离线时间写回 users 表
type LastSeen struct {
	db     *gorm.DB
	table  string
	column string
}

// NewLastSeen 创建写入器
func NewLastSeen(db *gorm.DB, cfg LastSeenConfig) *LastSeen {
	if cfg.Table == "" {
		cfg.Table = "users"
	}
	if cfg.Column == "" {
		cfg.Column = "last_seen"
	}
	return &LastSeen{db: db, table: cfg.Table, column: cfg.Column}
}

// SaveLastSeen 更新最后在线时间，只前进不后退
func (l *LastSeen) SaveLastSeen(ctx context.Context, userID int64, at time.Time) error {
	return l.db.WithContext(ctx).
		Table(l.table).
		Where("id = ?", userID).
		Where(l.db.Where(l.column+" IS NULL").Or(l.column+" < ?", at)).
		Update(l.column, at).Error
}
