package realtime

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 按来源地址的滑动窗口限流
// 被拒绝的尝试不计入窗口
type RateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      now,
	}
}

// Allow 记录一次尝试，超过窗口上限返回 false
func (l *RateLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.attempts[addr], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.attempts[addr] = recent
		return false
	}
	l.attempts[addr] = append(recent, now)
	return true
}

// Sweep 清理过期记录，删除空条目，返回剩余地址数
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for addr, ts := range l.attempts {
		recent := prune(ts, cutoff)
		if len(recent) == 0 {
			delete(l.attempts, addr)
			continue
		}
		l.attempts[addr] = recent
	}
	return len(l.attempts)
}

// Run 定期清理，直到 ctx 取消
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// SetLimit 调整窗口上限（配置热更新）
func (l *RateLimiter) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

// Limit 当前窗口上限
func (l *RateLimiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Len 正在跟踪的地址数
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

// prune 丢弃 cutoff 之前（含）的时间戳，ts 按时间递增
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
