package redis

import (
	"context"
	"fmt"
	"strings"

	"wisefido-drowsiness/internal/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端，cfg.Timeout 同时作为连接与读写超时
func NewRedisClient(cfg *config.RedisConfig) *Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

// Connect 创建客户端并确认 Redis 可达，失败时关闭客户端
func Connect(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	client := NewRedisClient(cfg)

	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Close 关闭Redis连接
func Close(client *Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// Keyspace 键名前缀
type Keyspace string

// Key 用冒号拼接前缀和各段，例如 Keyspace("drowsiness").Key("session", 42, "alert")
// 得到 drowsiness:session:42:alert；前缀为空时省略
func (k Keyspace) Key(parts ...interface{}) string {
	segments := make([]string, 0, len(parts)+1)
	if k != "" {
		segments = append(segments, string(k))
	}
	for _, p := range parts {
		segments = append(segments, fmt.Sprint(p))
	}
	return strings.Join(segments, ":")
}
