package realtime

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceMirror 集群范围的在线状态镜像
// 本地状态表只知道本节点的连接，镜像让初始快照与状态接口能看到其他节点的用户
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64, lastSeen time.Time) error
	// Refresh 续期本节点的记录，节点宕机后其记录自动过期
	Refresh(ctx context.Context) error
	Lookup(ctx context.Context, userIDs []int64) ([]PresenceEntry, error)
	OnlineCount(ctx context.Context) (int64, error)
}

// RedisPresence 基于 Redis 的在线状态镜像
//
//	<prefix>node:<node>  本节点在线用户 set，带 TTL
//	<prefix>nodes        存活节点 zset，score 为过期时间戳
//	<prefix>lastseen     用户最后活跃时间 hash
type RedisPresence struct {
	client redis.UniversalClient
	prefix string
	node   string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisPresence 创建镜像，ttl 应大于心跳间隔
func NewRedisPresence(client redis.UniversalClient, prefix, node string, ttl time.Duration) *RedisPresence {
	if prefix == "" {
		prefix = "lovpulse:presence:"
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisPresence{client: client, prefix: prefix, node: node, ttl: ttl, now: time.Now}
}

func (p *RedisPresence) nodeKey(node string) string { return p.prefix + "node:" + node }
func (p *RedisPresence) nodesKey() string           { return p.prefix + "nodes" }
func (p *RedisPresence) lastSeenKey() string        { return p.prefix + "lastseen" }

func (p *RedisPresence) SetOnline(ctx context.Context, userID int64) error {
	key := p.nodeKey(p.node)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, userID)
		pipe.Expire(ctx, key, p.ttl)
		pipe.ZAdd(ctx, p.nodesKey(), redis.Z{Score: p.expiry(), Member: p.node})
		return nil
	})
	return err
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID int64, lastSeen time.Time) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, p.nodeKey(p.node), userID)
		pipe.HSet(ctx, p.lastSeenKey(), strconv.FormatInt(userID, 10), lastSeen.UnixMilli())
		return nil
	})
	return err
}

func (p *RedisPresence) Refresh(ctx context.Context) error {
	now := p.now()
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, p.nodeKey(p.node), p.ttl)
		pipe.ZAdd(ctx, p.nodesKey(), redis.Z{Score: p.expiry(), Member: p.node})
		pipe.ZRemRangeByScore(ctx, p.nodesKey(), "-inf", strconv.FormatInt(now.Unix(), 10))
		return nil
	})
	return err
}

// Remove 节点下线时清除本节点记录
func (p *RedisPresence) Remove(ctx context.Context) error {
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.nodeKey(p.node))
		pipe.ZRem(ctx, p.nodesKey(), p.node)
		return nil
	})
	return err
}

func (p *RedisPresence) liveNodes(ctx context.Context) ([]string, error) {
	return p.client.ZRangeByScore(ctx, p.nodesKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(p.now().Unix(), 10),
		Max: "+inf",
	}).Result()
}

func (p *RedisPresence) Lookup(ctx context.Context, userIDs []int64) ([]PresenceEntry, error) {
	entries := make([]PresenceEntry, len(userIDs))
	for i, uid := range userIDs {
		entries[i].UserID = uid
	}
	if len(userIDs) == 0 {
		return entries, nil
	}

	nodes, err := p.liveNodes(ctx)
	if err != nil {
		return nil, err
	}

	members := make([]any, len(userIDs))
	fields := make([]string, len(userIDs))
	for i, uid := range userIDs {
		members[i] = uid
		fields[i] = strconv.FormatInt(uid, 10)
	}

	pipe := p.client.Pipeline()
	checks := make([]*redis.BoolSliceCmd, 0, len(nodes))
	for _, node := range nodes {
		checks = append(checks, pipe.SMIsMember(ctx, p.nodeKey(node), members...))
	}
	seen := pipe.HMGet(ctx, p.lastSeenKey(), fields...)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for _, cmd := range checks {
		flags, err := cmd.Result()
		if err != nil {
			continue
		}
		for i, online := range flags {
			if online {
				entries[i].IsOnline = true
			}
		}
	}
	if values, err := seen.Result(); err == nil {
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				t := time.UnixMilli(ms)
				entries[i].LastSeen = &t
			}
		}
	}
	return entries, nil
}

func (p *RedisPresence) OnlineCount(ctx context.Context) (int64, error) {
	nodes, err := p.liveNodes(ctx)
	if err != nil || len(nodes) == 0 {
		return 0, err
	}
	keys := make([]string, len(nodes))
	for i, node := range nodes {
		keys[i] = p.nodeKey(node)
	}
	users, err := p.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	return int64(len(users)), nil
}

func (p *RedisPresence) expiry() float64 {
	return float64(p.now().Add(p.ttl).Unix())
}

// mergePresence 合并本地与镜像状态：任一侧在线即在线，LastSeen 取较新者
func mergePresence(local, remote []PresenceEntry) []PresenceEntry {
	if len(remote) != len(local) {
		return local
	}
	out := make([]PresenceEntry, len(local))
	for i := range local {
		e := local[i]
		r := remote[i]
		e.IsOnline = e.IsOnline || r.IsOnline
		if r.LastSeen != nil && (e.LastSeen == nil || r.LastSeen.After(*e.LastSeen)) {
			e.LastSeen = r.LastSeen
		}
		out[i] = e
	}
	return out
}
