package extractor

import (
	"fmt"
	"math"

	"wisefido-drowsiness/internal/models"
)

// 默认阈值
const (
	DefaultClosedEyeRatio = 0.15 // 低于该比值视为闭眼（0%）
	DefaultMaxOpenRatio   = 0.35 // 达到该比值视为完全睁开（100%）
)

// 面部网格中的眼部关键点索引，顺序为 p1..p6：
// p1/p4 为眼角，p2/p3 为上眼睑，p6/p5 为对应的下眼睑
var (
	LeftEyeIndices  = [6]int{362, 385, 387, 263, 373, 380}
	RightEyeIndices = [6]int{33, 160, 158, 133, 153, 144}
)

// Extractor 将关键点转换为双眼睁开度百分比（纯函数，无副作用）
type Extractor struct {
	closedRatio  float64
	maxOpenRatio float64
}

// NewExtractor 创建信号提取器
func NewExtractor(closedRatio, maxOpenRatio float64) (*Extractor, error) {
	if closedRatio < 0 || maxOpenRatio <= 0 {
		return nil, fmt.Errorf("eye ratios must be positive: closed=%v max_open=%v", closedRatio, maxOpenRatio)
	}
	if maxOpenRatio <= closedRatio {
		return nil, fmt.Errorf("max open ratio %v must be greater than closed ratio %v", maxOpenRatio, closedRatio)
	}
	return &Extractor{
		closedRatio:  closedRatio,
		maxOpenRatio: maxOpenRatio,
	}, nil
}

// Extract 从一帧关键点计算双眼读数
// 未检测到人脸或关键点不完整时返回无信号读数和 ErrSignalUnavailable
func (e *Extractor) Extract(frame *models.LandmarkFrame) (models.EyeReading, error) {
	if frame == nil || !frame.FaceDetected {
		return models.NoSignal(), models.ErrSignalUnavailable
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return models.NoSignal(), fmt.Errorf("%w: invalid frame size %dx%d", models.ErrSignalUnavailable, frame.Width, frame.Height)
	}

	left, ok := eyePoints(frame, LeftEyeIndices)
	if !ok {
		return models.NoSignal(), fmt.Errorf("%w: %d landmarks is not a full face mesh", models.ErrSignalUnavailable, len(frame.Landmarks))
	}
	right, ok := eyePoints(frame, RightEyeIndices)
	if !ok {
		return models.NoSignal(), fmt.Errorf("%w: %d landmarks is not a full face mesh", models.ErrSignalUnavailable, len(frame.Landmarks))
	}

	leftRatio := EyeAspectRatio(left)
	rightRatio := EyeAspectRatio(right)

	return models.EyeReading{
		Present:      true,
		LeftRatio:    leftRatio,
		RightRatio:   rightRatio,
		LeftPercent:  e.Percent(leftRatio),
		RightPercent: e.Percent(rightRatio),
	}, nil
}

// Percent 将眼睛纵横比映射为睁开度百分比
// 低于闭眼阈值为 0，其余按 ratio/maxOpen 线性缩放并截断到 [0,100]
func (e *Extractor) Percent(ratio float64) float64 {
	if ratio < e.closedRatio {
		return 0
	}
	return clamp(ratio/e.maxOpenRatio*100, models.MinEyeOpenness, models.MaxEyeOpenness)
}

// EyeAspectRatio 计算 EAR = (|p2-p6| + |p3-p5|) / (2*|p1-p4|)
// 眼角重合时返回 0
func EyeAspectRatio(p [6]models.Point) float64 {
	a := distance(p[1], p[5])
	b := distance(p[2], p[4])
	c := distance(p[0], p[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2 * c)
}

// Denormalize 将归一化坐标转换为像素坐标（截断取整并限制在帧内）
func Denormalize(p models.Point, width, height int) models.Point {
	x := math.Trunc(p.X * float64(width))
	y := math.Trunc(p.Y * float64(height))
	return models.Point{
		X: clamp(x, 0, float64(width-1)),
		Y: clamp(y, 0, float64(height-1)),
	}
}

func eyePoints(frame *models.LandmarkFrame, indices [6]int) ([6]models.Point, bool) {
	var pts [6]models.Point
	for i, idx := range indices {
		if idx >= len(frame.Landmarks) {
			return pts, false
		}
		pts[i] = Denormalize(frame.Landmarks[idx], frame.Width, frame.Height)
	}
	return pts, true
}

func distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
