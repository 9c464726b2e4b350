package actuator

import (
	"context"
	"fmt"
	"time"

	"wisefido-drowsiness/internal/common/redis"
	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// alertStateTTL 报警状态键的过期时间，防止进程退出后残留 on
const alertStateTTL = 24 * time.Hour

// RedisActuator 将报警事件发布到 Redis Stream，并维护当前报警状态键
type RedisActuator struct {
	client *redis.Client
	keys   redis.Keyspace
	stream string
	logger *zap.Logger
}

// NewRedisActuator 创建 Redis 执行器
func NewRedisActuator(client *redis.Client, keys redis.Keyspace, stream string, logger *zap.Logger) *RedisActuator {
	return &RedisActuator{
		client: client,
		keys:   keys,
		stream: stream,
		logger: logger,
	}
}

// AlertStateKey 会话报警状态键，如 drowsiness:session:42:alert
func AlertStateKey(keys redis.Keyspace, sessionID int64) string {
	return keys.Key("session", sessionID, "alert")
}

// AlertOn 发布 alert-on
func (a *RedisActuator) AlertOn(ctx context.Context, event models.AlertEvent) error {
	return a.publish(ctx, event, "on")
}

// AlertOff 发布 alert-off
func (a *RedisActuator) AlertOff(ctx context.Context, event models.AlertEvent) error {
	return a.publish(ctx, event, "off")
}

func (a *RedisActuator) publish(ctx context.Context, event models.AlertEvent, state string) error {
	if err := a.client.Set(ctx, AlertStateKey(a.keys, event.SessionID), state, alertStateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set alert state: %w", err)
	}

	id, err := redis.PublishToStream(ctx, a.client, a.stream, map[string]interface{}{
		"event_id":      event.EventID,
		"type":          string(event.Type),
		"session_id":    event.SessionID,
		"offset_ms":     event.OffsetMs,
		"closed_for_ms": event.ClosedForMs,
		"at":            event.TriggeredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert event to stream %s: %w", a.stream, err)
	}

	a.logger.Debug("Alert event published to Redis",
		zap.String("stream", a.stream),
		zap.String("message_id", id),
		zap.String("type", string(event.Type)),
	)
	return nil
}
