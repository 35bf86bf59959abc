// 文件: pkg/alert/redis_manager.go
// Redis 冷却闸门 - 多实例部署共享冷却窗口

package alert

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownGate 基于 SetNX + TTL 的分布式冷却闸门
type RedisCooldownGate struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCooldownGate(addr string, ttl time.Duration) *RedisCooldownGate {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisCooldownGate{client: rdb, ttl: ttl}
}

// Allow SetNX 抢占冷却窗口
// Key 不存在则设置成功 (放行并开窗)，存在则失败 (冷却中)
func (g *RedisCooldownGate) Allow(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, "alert:cooldown:"+key, "1", g.ttl).Result()
}

// Close 关闭连接
func (g *RedisCooldownGate) Close() error {
	return g.client.Close()
}
