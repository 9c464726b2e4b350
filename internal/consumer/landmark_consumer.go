package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-drowsiness/internal/common/mqtt"
	"wisefido-drowsiness/internal/extractor"
	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（由 common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// LandmarkMessage 关键点服务发布的消息
// 心率与方向盘数据由车载网关合并到同一帧，可缺省
type LandmarkMessage struct {
	models.LandmarkFrame
	HeartRate     *int     `json:"heart_rate,omitempty"`
	SteeringAngle *float64 `json:"steering_angle,omitempty"`
	SteeringForce *float64 `json:"steering_force,omitempty"`
}

// LandmarkConsumer 订阅人脸关键点并作为采样循环的信号源
// 只保留最新一帧，超过 staleAfter 未更新视为无信号
type LandmarkConsumer struct {
	subscriber Subscriber
	topic      string
	qos        byte
	extractor  *extractor.Extractor
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu         sync.Mutex
	latest     *LandmarkMessage
	receivedAt time.Time
	received   int
	rejected   int
}

// NewLandmarkConsumer 创建关键点消费者
func NewLandmarkConsumer(
	subscriber Subscriber,
	topic string,
	qos byte,
	ext *extractor.Extractor,
	staleAfter time.Duration,
	logger *zap.Logger,
) *LandmarkConsumer {
	return &LandmarkConsumer{
		subscriber: subscriber,
		topic:      topic,
		qos:        qos,
		extractor:  ext,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Start 订阅关键点主题
func (c *LandmarkConsumer) Start() error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to landmark topic: %w", err)
	}

	c.logger.Info("Landmark consumer started",
		zap.String("topic", c.topic),
		zap.Duration("stale_after", c.staleAfter),
	)
	return nil
}

// Stop 取消订阅
func (c *LandmarkConsumer) Stop() {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	received, rejected := c.Stats()
	c.logger.Info("Landmark consumer stopped",
		zap.Int("frames_received", received),
		zap.Int("frames_rejected", rejected),
	)
}

// Stats 收到与解析失败的帧数
func (c *LandmarkConsumer) Stats() (received, rejected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received, c.rejected
}

// Next 实现信号源接口：取最新一帧计算双眼睁开度
// 没有帧、帧已过期或未检测到人脸时返回 ErrSignalUnavailable
func (c *LandmarkConsumer) Next(ctx context.Context, at time.Time) (models.Signals, error) {
	if err := ctx.Err(); err != nil {
		return models.Signals{}, err
	}

	c.mu.Lock()
	msg := c.latest
	receivedAt := c.receivedAt
	c.mu.Unlock()

	if msg == nil {
		return models.Signals{Eyes: models.NoSignal()}, fmt.Errorf("%w: no landmark frame received", models.ErrSignalUnavailable)
	}
	if c.staleAfter > 0 && at.Sub(receivedAt) > c.staleAfter {
		return models.Signals{Eyes: models.NoSignal()}, fmt.Errorf("%w: landmark frame is %v old", models.ErrSignalUnavailable, at.Sub(receivedAt))
	}

	signals := models.Signals{
		HeartRate:     msg.HeartRate,
		SteeringAngle: msg.SteeringAngle,
		SteeringForce: msg.SteeringForce,
	}
	eyes, err := c.extractor.Extract(&msg.LandmarkFrame)
	signals.Eyes = eyes
	return signals, err
}

// handleMessage 处理关键点消息
func (c *LandmarkConsumer) handleMessage(topic string, payload []byte) error {
	var msg LandmarkMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.mu.Lock()
		c.rejected++
		c.mu.Unlock()
		return fmt.Errorf("failed to parse landmark message: %w", err)
	}

	c.mu.Lock()
	c.latest = &msg
	c.receivedAt = c.now()
	c.received++
	c.mu.Unlock()

	c.logger.Debug("Received landmark frame",
		zap.String("topic", topic),
		zap.String("device_id", msg.DeviceID),
		zap.Bool("face_detected", msg.FaceDetected),
		zap.Int("landmark_count", len(msg.Landmarks)),
	)
	return nil
}
