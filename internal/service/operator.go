package service

import (
	"context"
	"time"

	"wisefido-drowsiness/internal/actuator"
	"wisefido-drowsiness/internal/common/redis"
	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// 运维通道消息类型
const (
	KindPersistenceFailure   = "persistence-failure"
	KindAlertDeliveryFailure = "alert-delivery-failure"
)

// OperatorEvent 运维通道消息（JSON 写入 data 字段）
type OperatorEvent struct {
	Kind                string    `json:"kind"`
	SessionID           int64     `json:"session_id"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	AlertType           string    `json:"alert_type,omitempty"`
	EventID             string    `json:"event_id,omitempty"`
	Error               string    `json:"error"`
	At                  time.Time `json:"at"`
}

// OperatorNotifier 持久化连续失败或报警无法送达时通知运维（日志 + 可选 Redis Stream）
type OperatorNotifier struct {
	redisClient *redis.Client
	stream      string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewOperatorNotifier 创建运维通知器，redisClient 为 nil 或 stream 为空时只记录日志
func NewOperatorNotifier(redisClient *redis.Client, stream string, logger *zap.Logger) *OperatorNotifier {
	return &OperatorNotifier{
		redisClient: redisClient,
		stream:      stream,
		timeout:     2 * time.Second,
		logger:      logger,
	}
}

// PersistenceFailure 作为 session.Options.OnPersistenceFailure 使用
func (n *OperatorNotifier) PersistenceFailure(sessionID int64, failures int, err error) {
	n.logger.Error("Telemetry persistence failing repeatedly, samples held in memory",
		zap.Int64("session_id", sessionID),
		zap.Int("consecutive_failures", failures),
		zap.Error(err),
	)
	n.publish(OperatorEvent{
		Kind:                KindPersistenceFailure,
		SessionID:           sessionID,
		ConsecutiveFailures: failures,
		Error:               err.Error(),
		At:                  time.Now().UTC(),
	})
}

// AlertDelivery 作为 actuator.Dispatcher 的结果回调使用，只上报 alert-on 送达失败
// alert-off 失败由调度器日志记录
func (n *OperatorNotifier) AlertDelivery(result actuator.DispatchResult) {
	if result.Err == nil || result.Event.Type != models.AlertOn {
		return
	}
	n.publish(OperatorEvent{
		Kind:      KindAlertDeliveryFailure,
		SessionID: result.Event.SessionID,
		AlertType: string(result.Event.Type),
		EventID:   result.Event.EventID,
		Error:     result.Err.Error(),
		At:        time.Now().UTC(),
	})
}

func (n *OperatorNotifier) publish(event OperatorEvent) {
	if n.redisClient == nil || n.stream == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if _, err := redis.PublishJSONToStream(ctx, n.redisClient, n.stream, event); err != nil {
		n.logger.Warn("Failed to notify operator channel",
			zap.String("stream", n.stream),
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
	}
}
