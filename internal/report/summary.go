package report

import (
	"math"

	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// Stat 单个字段的最小/最大/平均值（增量统计）
type Stat struct {
	Count int
	Min   float64
	Max   float64
	Sum   float64
}

// Add 加入一个值
func (s *Stat) Add(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Count++
	s.Sum += v
}

// Mean 平均值，无数据时为 0
func (s Stat) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Summary 会话汇总
type Summary struct {
	Samples       int
	AlertSamples  int // 处于报警状态的采样数
	EyeOpenness   Stat
	HeartRate     Stat // 不含无心率信号（0）的采样
	SteeringAngle Stat
	SteeringForce Stat
}

// Observe 加入一个采样
func (s *Summary) Observe(sample models.Sample) {
	s.Samples++
	if sample.Alerting() {
		s.AlertSamples++
	}
	s.EyeOpenness.Add(sample.EyeOpenness)
	if sample.HeartRate > 0 {
		s.HeartRate.Add(float64(sample.HeartRate))
	}
	if sample.SteeringAngle != nil {
		s.SteeringAngle.Add(*sample.SteeringAngle)
	}
	if sample.SteeringForce != nil {
		s.SteeringForce.Add(*sample.SteeringForce)
	}
}

// Summarize 汇总一组采样
func Summarize(samples []models.Sample) Summary {
	var s Summary
	for _, sample := range samples {
		s.Observe(sample)
	}
	return s
}

// Fields 日志字段
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("samples", s.Samples),
		zap.Int("alert_samples", s.AlertSamples),
		zap.Float64("eye_openness_min", s.EyeOpenness.Min),
		zap.Float64("eye_openness_max", s.EyeOpenness.Max),
		zap.Float64("eye_openness_mean", round2(s.EyeOpenness.Mean())),
		zap.Float64("heart_rate_min", s.HeartRate.Min),
		zap.Float64("heart_rate_max", s.HeartRate.Max),
		zap.Float64("heart_rate_mean", round2(s.HeartRate.Mean())),
		zap.Float64("steering_angle_min", s.SteeringAngle.Min),
		zap.Float64("steering_angle_max", s.SteeringAngle.Max),
		zap.Float64("steering_angle_mean", round2(s.SteeringAngle.Mean())),
		zap.Float64("steering_force_min", s.SteeringForce.Min),
		zap.Float64("steering_force_max", s.SteeringForce.Max),
		zap.Float64("steering_force_mean", round2(s.SteeringForce.Mean())),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
