package realtime

import (
	"sync"
	"time"
)

// PresenceRecord 用户在线状态
type PresenceRecord struct {
	UserID   int64     `json:"userId"`
	Count    int       `json:"count"`
	Online   bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Presence 由连接数推导的在线状态表
// Online 恒等于 Count > 0，LastSeen 只前进不后退
type Presence struct {
	mu      sync.RWMutex
	records map[int64]*PresenceRecord
	now     func() time.Time
}

// NewPresence 创建在线状态表
func NewPresence(now func() time.Time) *Presence {
	if now == nil {
		now = time.Now
	}
	return &Presence{
		records: make(map[int64]*PresenceRecord),
		now:     now,
	}
}

// Apply 根据最新连接数更新状态，changed 表示 Online 发生翻转
func (p *Presence) Apply(userID int64, count int) (PresenceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok {
		rec = &PresenceRecord{UserID: userID}
		p.records[userID] = rec
	}

	wasOnline := rec.Online
	rec.Count = count
	rec.Online = count > 0
	p.advance(rec)
	return *rec, wasOnline != rec.Online
}

// Touch 刷新最后活跃时间，不改变在线状态
func (p *Presence) Touch(userID int64) PresenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok {
		rec = &PresenceRecord{UserID: userID}
		p.records[userID] = rec
	}
	p.advance(rec)
	return *rec
}

func (p *Presence) advance(rec *PresenceRecord) {
	if now := p.now(); now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
}

// Get 获取用户状态
func (p *Presence) Get(userID int64) (PresenceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[userID]
	if !ok {
		return PresenceRecord{UserID: userID}, false
	}
	return *rec, true
}

// Snapshot 批量获取状态，未知用户视为离线
func (p *Presence) Snapshot(userIDs []int64) []PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]PresenceEntry, 0, len(userIDs))
	for _, uid := range userIDs {
		entry := PresenceEntry{UserID: uid}
		if rec, ok := p.records[uid]; ok {
			entry.IsOnline = rec.Online
			if !rec.LastSeen.IsZero() {
				seen := rec.LastSeen
				entry.LastSeen = &seen
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// Online 返回当前在线的用户
func (p *Presence) Online() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]int64, 0)
	for uid, rec := range p.records {
		if rec.Online {
			users = append(users, uid)
		}
	}
	return users
}

// OnlineCount 在线用户数
func (p *Presence) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, rec := range p.records {
		if rec.Online {
			n++
		}
	}
	return n
}
