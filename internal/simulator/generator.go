package simulator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"wisefido-drowsiness/internal/models"
)

// 生成参数
const (
	NormalOpennessMean   = 82.0
	NormalOpennessStdDev = 6.0
	EpisodeProbability   = 0.02 // 每个周期进入困倦片段的概率
	EpisodeMinTicks      = 2
	EpisodeMaxTicks      = 8

	// 低于该睁开度按闭眼处理（与 EAR 闭眼阈值对应，记为 0%）
	ClosedOpennessPercent = 15.0

	heartRatePeriod   = 30 * time.Second
	steeringPeriodA   = 8 * time.Second
	steeringPeriodB   = 20 * time.Second
	minHeartRate      = 50
	maxHeartRate      = 130
	normalGripMean    = 20.0
	normalGripStdDev  = 4.0
	drowsyGripMean    = 5.0
	drowsyGripStdDev  = 3.0
	normalSteerJitter = 3.0
	drowsySteerJitter = 12.0
)

// Generator 合成信号源（无摄像头时用于测试与演示）
// 所有随机数来自同一个种子，同一种子产生完全相同的序列
type Generator struct {
	rng       *rand.Rand
	period    time.Duration
	step      int64
	baseHR    int
	remaining int // 当前困倦片段剩余周期数
	total     int // 当前困倦片段总周期数
}

// NewGenerator 创建合成信号源
func NewGenerator(seed int64, period time.Duration) *Generator {
	if period <= 0 {
		period = time.Second
	}
	rng := rand.New(rand.NewSource(seed))
	return &Generator{
		rng:    rng,
		period: period,
		baseHR: 65 + rng.Intn(16),
	}
}

// Next 实现信号源接口，按内部步数推进（不依赖传入时间）
func (g *Generator) Next(ctx context.Context, _ time.Time) (models.Signals, error) {
	if err := ctx.Err(); err != nil {
		return models.Signals{}, err
	}
	elapsed := time.Duration(g.step) * g.period
	g.step++
	return g.Generate(elapsed), nil
}

// Generate 生成 elapsed 时刻的一组信号并推进隐藏状态
func (g *Generator) Generate(elapsed time.Duration) models.Signals {
	// 片段从触发的那个周期起影响方向盘，眼睛从下一个周期开始闭合
	openness := g.nextOpenness()
	drowsy := g.remaining > 0

	hr := float64(g.baseHR) + 5*wave(elapsed, heartRatePeriod) + g.rng.NormFloat64()*2
	heartRate := int(math.Round(clamp(hr, minHeartRate, maxHeartRate)))

	jitter := normalSteerJitter
	if drowsy {
		jitter = drowsySteerJitter
	}
	angle := 15*wave(elapsed, steeringPeriodA) + 8*wave(elapsed, steeringPeriodB) + g.rng.NormFloat64()*jitter
	angle = round1(clamp(angle, models.MinSteeringAngle, models.MaxSteeringAngle))

	var force float64
	if drowsy {
		force = drowsyGripMean + g.rng.NormFloat64()*drowsyGripStdDev
	} else {
		force = normalGripMean + g.rng.NormFloat64()*normalGripStdDev
	}
	force = round1(clamp(force, models.MinSteeringForce, models.MaxSteeringForce))

	return models.Signals{
		Eyes: models.EyeReading{
			Present:      true,
			LeftPercent:  openness,
			RightPercent: openness,
		},
		HeartRate:     &heartRate,
		SteeringAngle: &angle,
		SteeringForce: &force,
	}
}

func (g *Generator) nextOpenness() float64 {
	var openness float64
	if g.remaining > 0 {
		// 片段内按剩余比例向 0 逐渐闭合
		progress := float64(g.remaining) / float64(g.total)
		openness = math.Max(0, 10*progress+g.rng.NormFloat64()*2)
		g.remaining--
	} else {
		openness = clamp(NormalOpennessMean+g.rng.NormFloat64()*NormalOpennessStdDev, 0, 100)
		if g.rng.Float64() < EpisodeProbability {
			g.total = EpisodeMinTicks + g.rng.Intn(EpisodeMaxTicks-EpisodeMinTicks+1)
			g.remaining = g.total
		}
	}

	openness = round1(openness)
	if openness < ClosedOpennessPercent {
		return 0
	}
	return openness
}

func wave(elapsed, period time.Duration) float64 {
	return math.Sin(2 * math.Pi * elapsed.Seconds() / period.Seconds())
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
