// Package store 实时层读取/写入的关系库数据
package store

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/tokmz/lovpulse/pkg/cache"
)

// ContactsConfig 联系人查询配置
type ContactsConfig struct {
	Table    string        `mapstructure:"table"`     // 会话参与者表
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // 联系人缓存时间
}

// Contacts 查询与用户存在私信会话的其他用户
type Contacts struct {
	db     *gorm.DB
	table  string
	loader *cache.Loader[[]int64]
}

// NewContacts 创建联系人查询
// c 为 nil 时不缓存
func NewContacts(db *gorm.DB, c cache.Cache, cfg ContactsConfig) *Contacts {
	if cfg.Table == "" {
		cfg.Table = "conversation_participants"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}

	ct := &Contacts{db: db, table: cfg.Table}
	if c != nil {
		ct.loader = cache.NewLoader[[]int64](c, cfg.CacheTTL)
	}
	return ct
}

// Contacts 返回联系人 ID 列表
func (c *Contacts) Contacts(ctx context.Context, userID int64) ([]int64, error) {
	if c.loader == nil {
		return c.query(ctx, userID)
	}
	return c.loader.Load(ctx, contactsKey(userID), func() ([]int64, error) {
		return c.query(ctx, userID)
	})
}

// Invalidate 清除用户的联系人缓存（新建会话后调用）
func (c *Contacts) Invalidate(ctx context.Context, userID int64) error {
	if c.loader == nil {
		return nil
	}
	return c.loader.Invalidate(ctx, contactsKey(userID))
}

func (c *Contacts) query(ctx context.Context, userID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := c.db.WithContext(ctx).
		Table(c.table+" AS mine").
		Joins("JOIN "+c.table+" AS other ON other.conversation_id = mine.conversation_id").
		Where("mine.user_id = ? AND other.user_id <> ?", userID, userID).
		Distinct().
		Order("other.user_id").
		Pluck("other.user_id", &ids).Error
	return ids, err
}

func contactsKey(userID int64) string {
	return "contacts:" + strconv.FormatInt(userID, 10)
}
