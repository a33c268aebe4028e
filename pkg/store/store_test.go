package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tokmz/lovpulse/pkg/cache"
)

type participant struct {
	ConversationID int64 `gorm:"primaryKey"`
	UserID         int64 `gorm:"primaryKey"`
}

type user struct {
	ID       int64 `gorm:"primaryKey"`
	LastSeen *time.Time
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Table("conversation_participants").AutoMigrate(&participant{}))
	require.NoError(t, db.Table("users").AutoMigrate(&user{}))
	return db
}

func TestContacts(t *testing.T) {
	db := newDB(t)
	rows := []participant{
		{1, 10}, {1, 20},
		{2, 10}, {2, 30},
		{3, 10}, {3, 20},
		{4, 40}, {4, 50},
	}
	require.NoError(t, db.Table("conversation_participants").Create(&rows).Error)

	c, err := cache.New(cache.DefaultConfig(), nil)
	require.NoError(t, err)
	ct := NewContacts(db, c, ContactsConfig{})
	ctx := context.Background()

	ids, err := ct.Contacts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30}, ids)

	// 缓存命中期间新增会话不可见，失效后可见
	require.NoError(t, db.Table("conversation_participants").Create(&[]participant{{5, 10}, {5, 40}}).Error)
	ids, err = ct.Contacts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30}, ids)

	require.NoError(t, ct.Invalidate(ctx, 10))
	ids, err = ct.Contacts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30, 40}, ids)

	ids, err = NewContacts(db, nil, ContactsConfig{}).Contacts(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLastSeen(t *testing.T) {
	db := newDB(t)
	require.NoError(t, db.Table("users").Create(&user{ID: 1}).Error)
	ls := NewLastSeen(db, LastSeenConfig{})
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ls.SaveLastSeen(ctx, 1, t1))
	require.NoError(t, ls.SaveLastSeen(ctx, 1, t1.Add(-time.Hour)))

	var u user
	require.NoError(t, db.Table("users").First(&u, 1).Error)
	require.NotNil(t, u.LastSeen)
	assert.True(t, u.LastSeen.Equal(t1))
}
