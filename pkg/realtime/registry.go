package realtime

import (
	"sync"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// Registry 用户到连接集合的映射
// 一个连接只属于一个用户；集合为空的用户不保留条目
type Registry struct {
	mu       sync.RWMutex
	byUser   map[int64]map[*Conn]struct{}
	owner    map[*Conn]int64
	maxConns int
	peak     int
	total    int64
}

// NewRegistry 创建注册表，maxConns <= 0 表示不限制
func NewRegistry(maxConns int) *Registry {
	return &Registry{
		byUser:   make(map[int64]map[*Conn]struct{}),
		owner:    make(map[*Conn]int64),
		maxConns: maxConns,
	}
}

// Register 将连接登记到用户名下
// 重复登记同一连接不会改变状态；返回该用户当前连接数
func (r *Registry) Register(userID int64, c *Conn) (added bool, count int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uid, ok := r.owner[c]; ok {
		return false, len(r.byUser[uid]), nil
	}
	if r.maxConns > 0 && len(r.owner) >= r.maxConns {
		return false, len(r.byUser[userID]), errors.ErrTooManyConns
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.byUser[userID] = set
	}
	set[c] = struct{}{}
	r.owner[c] = userID
	r.total++
	if len(r.owner) > r.peak {
		r.peak = len(r.owner)
	}
	return true, len(set), nil
}

// Unregister 移除连接，返回所属用户及剩余连接数
// 未登记的连接返回 removed=false
func (r *Registry) Unregister(c *Conn) (removed bool, userID int64, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.owner[c]
	if !ok {
		return false, 0, 0
	}
	delete(r.owner, c)

	set := r.byUser[uid]
	delete(set, c)
	if len(set) == 0 {
		delete(r.byUser, uid)
	}
	return true, uid, len(set)
}

// Connections 返回用户当前所有连接的快照
func (r *Registry) Connections(userID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// All 返回全部连接的快照
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.owner))
	for c := range r.owner {
		conns = append(conns, c)
	}
	return conns
}

// Count 返回用户连接数
func (r *Registry) Count(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Users 返回当前有连接的用户
func (r *Registry) Users() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]int64, 0, len(r.byUser))
	for uid := range r.byUser {
		users = append(users, uid)
	}
	return users
}

// UserCount 在线用户数
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ConnCount 连接总数
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// Peak 历史最大连接数与累计登记次数
func (r *Registry) Peak() (peak int, total int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peak, r.total
}
