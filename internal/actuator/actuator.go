package actuator

import (
	"context"
	"errors"
	"fmt"

	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// Actuator 报警执行器（声音、画面叠加、远程通知等）
// 实现必须对重复的 alert-on 幂等
type Actuator interface {
	AlertOn(ctx context.Context, event models.AlertEvent) error
	AlertOff(ctx context.Context, event models.AlertEvent) error
}

// Deliver 按事件类型调用执行器
func Deliver(ctx context.Context, a Actuator, event models.AlertEvent) error {
	switch event.Type {
	case models.AlertOn:
		return a.AlertOn(ctx, event)
	case models.AlertOff:
		return a.AlertOff(ctx, event)
	default:
		return fmt.Errorf("unknown alert event type %q", event.Type)
	}
}

// LogActuator 只记录日志的执行器（始终启用）
type LogActuator struct {
	logger *zap.Logger
}

// NewLogActuator 创建日志执行器
func NewLogActuator(logger *zap.Logger) *LogActuator {
	return &LogActuator{logger: logger}
}

// AlertOn 记录报警开始
func (a *LogActuator) AlertOn(_ context.Context, event models.AlertEvent) error {
	a.logger.Warn("Drowsiness alert raised: eyes closed beyond alert duration",
		zap.Int64("session_id", event.SessionID),
		zap.Int64("offset_ms", event.OffsetMs),
		zap.Int64("closed_for_ms", event.ClosedForMs),
		zap.String("event_id", event.EventID),
	)
	return nil
}

// AlertOff 记录报警结束
func (a *LogActuator) AlertOff(_ context.Context, event models.AlertEvent) error {
	a.logger.Info("Drowsiness alert cleared",
		zap.Int64("session_id", event.SessionID),
		zap.Int64("offset_ms", event.OffsetMs),
		zap.String("event_id", event.EventID),
	)
	return nil
}

// MultiActuator 同时通知多个执行器，某个失败不影响其他
type MultiActuator struct {
	actuators []Actuator
}

// NewMultiActuator 创建组合执行器（忽略 nil）
func NewMultiActuator(actuators ...Actuator) *MultiActuator {
	m := &MultiActuator{}
	for _, a := range actuators {
		if a != nil {
			m.actuators = append(m.actuators, a)
		}
	}
	return m
}

// Len 执行器数量
func (m *MultiActuator) Len() int {
	return len(m.actuators)
}

// AlertOn 通知所有执行器
func (m *MultiActuator) AlertOn(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, a := range m.actuators {
		if err := a.AlertOn(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertOff 通知所有执行器
func (m *MultiActuator) AlertOff(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, a := range m.actuators {
		if err := a.AlertOff(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
