package models

import (
	"time"
)

// AlertEventType 报警事件类型（边沿触发）
type AlertEventType string

const (
	AlertOn  AlertEventType = "alert-on"
	AlertOff AlertEventType = "alert-off"
)

// AlertEvent 发送给报警执行器的事件
type AlertEvent struct {
	EventID     string         `json:"event_id"`
	Type        AlertEventType `json:"type"`
	SessionID   int64          `json:"session_id"`
	OffsetMs    int64          `json:"offset_ms"`
	ClosedForMs int64          `json:"closed_for_ms"` // 触发时双眼持续闭合时长
	TriggeredAt time.Time      `json:"triggered_at"`
}
