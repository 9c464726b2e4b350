package telemetry

import (
	"fmt"
	"math"

	"wisefido-drowsiness/internal/models"
)

// SampleInput 构建一次采样所需的数据
type SampleInput struct {
	OffsetMs      int64
	EyeOpenness   float64
	Alerting      bool // 视觉与声音报警同时置位
	HeartRate     *int
	SteeringAngle *float64
	SteeringForce *float64
}

// SampleBuilder 采样构建器（每个会话一个）
// 拒绝不严格递增的偏移，保证会话内采样顺序
type SampleBuilder struct {
	sessionID  int64
	lastOffset int64
	hasLast    bool
}

// NewSampleBuilder 创建采样构建器
func NewSampleBuilder(sessionID int64) *SampleBuilder {
	return &SampleBuilder{sessionID: sessionID}
}

// Build 构建采样
func (b *SampleBuilder) Build(in SampleInput) (models.Sample, error) {
	if in.OffsetMs < 0 {
		return models.Sample{}, fmt.Errorf("%w: negative offset %d", models.ErrOrderingViolation, in.OffsetMs)
	}
	if b.hasLast && in.OffsetMs <= b.lastOffset {
		return models.Sample{}, fmt.Errorf("%w: offset %d not after %d in session %d",
			models.ErrOrderingViolation, in.OffsetMs, b.lastOffset, b.sessionID)
	}
	if err := validate(in); err != nil {
		return models.Sample{}, err
	}

	sample := models.Sample{
		SessionID:     b.sessionID,
		OffsetMs:      in.OffsetMs,
		EyeOpenness:   round1(in.EyeOpenness),
		VisualAlert:   in.Alerting,
		AudibleAlert:  in.Alerting,
		SteeringAngle: copyFloat(in.SteeringAngle),
		SteeringForce: copyFloat(in.SteeringForce),
	}
	if in.HeartRate != nil {
		sample.HeartRate = *in.HeartRate
	}

	b.lastOffset = in.OffsetMs
	b.hasLast = true
	return sample, nil
}

func validate(in SampleInput) error {
	if math.IsNaN(in.EyeOpenness) || in.EyeOpenness < models.MinEyeOpenness || in.EyeOpenness > models.MaxEyeOpenness {
		return fmt.Errorf("%w: eye openness %v out of range", models.ErrInvalidSample, in.EyeOpenness)
	}
	if in.HeartRate != nil && (*in.HeartRate < models.MinHeartRate || *in.HeartRate > models.MaxHeartRate) {
		return fmt.Errorf("%w: heart rate %d out of range", models.ErrInvalidSample, *in.HeartRate)
	}
	if in.SteeringAngle != nil && (*in.SteeringAngle < models.MinSteeringAngle || *in.SteeringAngle > models.MaxSteeringAngle) {
		return fmt.Errorf("%w: steering angle %v out of range", models.ErrInvalidSample, *in.SteeringAngle)
	}
	if in.SteeringForce != nil && (*in.SteeringForce < models.MinSteeringForce || *in.SteeringForce > models.MaxSteeringForce) {
		return fmt.Errorf("%w: steering force %v out of range", models.ErrInvalidSample, *in.SteeringForce)
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
