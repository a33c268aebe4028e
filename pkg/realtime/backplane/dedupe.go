package backplane

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	gocache "github.com/patrickmn/go-cache"
)

// DefaultDedupeTTL 精确集合中 ID 的保留时长
const DefaultDedupeTTL = 10 * time.Minute

// Dedupe 信封去重
// 两代布隆过滤器只作快速否定判断，命中"可能见过"时再查精确的 TTL 集合，
// 因此不会因误判丢弃新消息；最坏情况是窗口外的重复消息被再投递一次
type Dedupe struct {
	mu       sync.Mutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	exact    *gocache.Cache
	count    uint
	capacity uint
	fpRate   float64
	ttl      time.Duration
}

// NewDedupe 创建去重器，capacity 为每代容量，ttl 为精确集合的保留时长
func NewDedupe(capacity uint, fpRate float64, ttl time.Duration) *Dedupe {
	if capacity == 0 {
		capacity = 100_000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.0001
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &Dedupe{
		current:  bloom.NewWithEstimates(capacity, fpRate),
		previous: bloom.NewWithEstimates(capacity, fpRate),
		// 不启动清理协程，过期项在轮换时清理
		exact:    gocache.New(ttl, 0),
		capacity: capacity,
		fpRate:   fpRate,
		ttl:      ttl,
	}
}

// Seen 记录 id，已见过时返回 true
func (d *Dedupe) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.previous.TestString(id) || d.current.TestString(id) {
		if _, ok := d.exact.Get(id); ok {
			return true
		}
	} else {
		d.current.AddString(id)
		d.count++
	}
	d.exact.SetDefault(id, struct{}{})

	if d.count >= d.capacity {
		d.previous = d.current
		d.current = bloom.NewWithEstimates(d.capacity, d.fpRate)
		d.count = 0
		d.exact.DeleteExpired()
	}
	return false
}
