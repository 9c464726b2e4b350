package models

// 采样字段取值范围
const (
	MinEyeOpenness   = 0.0
	MaxEyeOpenness   = 100.0
	MinHeartRate     = 0
	MaxHeartRate     = 250
	MinSteeringAngle = -540.0
	MaxSteeringAngle = 540.0
	MinSteeringForce = 0.0
	MaxSteeringForce = 80.0
)

// Sample 一次采样（对应 samples 表），构建后不可修改
type Sample struct {
	SessionID     int64    `json:"session_id" db:"session_id"`
	OffsetMs      int64    `json:"offset_ms" db:"offset_ms"`       // 相对会话开始的毫秒偏移，会话内严格递增
	EyeOpenness   float64  `json:"eye_openness" db:"eye_openness"` // 0-100
	HeartRate     int      `json:"heart_rate" db:"heart_rate"`     // 0 表示无心率信号
	VisualAlert   bool     `json:"visual_alert" db:"visual_alert"`
	AudibleAlert  bool     `json:"audible_alert" db:"audible_alert"`
	SteeringAngle *float64 `json:"steering_angle,omitempty" db:"steering_angle"` // 度，[-540, 540]
	SteeringForce *float64 `json:"steering_force,omitempty" db:"steering_force"` // 牛顿，[0, 80]
}

// Alerting 采样时是否处于报警状态
func (s Sample) Alerting() bool {
	return s.VisualAlert || s.AudibleAlert
}
