package session

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// sessionRow connect-pg-simple 的会话表结构
type sessionRow struct {
	Sid    string    `gorm:"column:sid;primaryKey"`
	Sess   string    `gorm:"column:sess"`
	Expire time.Time `gorm:"column:expire"`
}

// DBStore 基于数据库会话表的 Store
type DBStore struct {
	db    *gorm.DB
	table string
	keys  Keys
	now   func() time.Time
}

// NewDBStore 创建数据库会话存储
func NewDBStore(db *gorm.DB, table string, keys Keys) *DBStore {
	if table == "" {
		table = DefaultTable
	}
	return &DBStore{db: db, table: table, keys: keys, now: time.Now}
}

// Load 按会话 ID 加载身份，过期会话视为未登录
func (s *DBStore) Load(ctx context.Context, sid string) (*Identity, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("sid = ? AND expire > ?", sid, s.now()).
		Take(&row).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNoSession
		}
		return nil, errors.ErrServer.WithError(err)
	}
	return decodeIdentity([]byte(row.Sess), s.keys)
}
