package actuator

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-drowsiness/internal/models"
)

// Publisher MQTT 发布接口（由 common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}

// MQTTActuator 向车载终端（蜂鸣器、画面叠加）发布报警状态
// 使用保留消息，终端重连后立即获得当前状态
type MQTTActuator struct {
	publisher Publisher
	topic     string
	qos       byte
}

// NewMQTTActuator 创建 MQTT 执行器
func NewMQTTActuator(publisher Publisher, topic string, qos byte) *MQTTActuator {
	return &MQTTActuator{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
	}
}

// AlertOn 发布 alert-on
func (a *MQTTActuator) AlertOn(ctx context.Context, event models.AlertEvent) error {
	return a.publish(ctx, event)
}

// AlertOff 发布 alert-off
func (a *MQTTActuator) AlertOff(ctx context.Context, event models.AlertEvent) error {
	return a.publish(ctx, event)
}

func (a *MQTTActuator) publish(ctx context.Context, event models.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// 断线时发布会阻塞到重连为止，直接返回错误
	if !a.publisher.IsConnected() {
		return fmt.Errorf("mqtt client not connected, alert not published to %s", a.topic)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	return a.publisher.Publish(a.topic, a.qos, true, payload)
}
