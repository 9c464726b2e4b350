package models

// Point 二维坐标（归一化坐标或像素坐标）
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkFrame 外部关键点服务每帧输出
// FaceDetected 为 false 时 Landmarks 为空
type LandmarkFrame struct {
	DeviceID     string  `json:"device_id"`
	FaceDetected bool    `json:"face_detected"`
	Landmarks    []Point `json:"landmarks"`             // 归一化坐标 [0,1]
	Width        int     `json:"width"`                 // 帧宽（像素）
	Height       int     `json:"height"`                // 帧高（像素）
	CapturedAt   int64   `json:"captured_at,omitempty"` // Unix 毫秒
}

// EyeReading 双眼睁开度读数
// Present 为 false 表示本次无信号（未检测到人脸），与“双眼闭合”不同
type EyeReading struct {
	Present      bool    `json:"present"`
	LeftPercent  float64 `json:"left_percent"`
	RightPercent float64 `json:"right_percent"`
	LeftRatio    float64 `json:"left_ratio"`
	RightRatio   float64 `json:"right_ratio"`
}

// NoSignal 无信号读数
func NoSignal() EyeReading {
	return EyeReading{}
}

// BothClosed 双眼是否均判定为闭合（睁开度为 0）
func (r EyeReading) BothClosed() bool {
	return r.Present && r.LeftPercent == 0 && r.RightPercent == 0
}

// Openness 单个采样记录的睁开度（双眼平均）
func (r EyeReading) Openness() float64 {
	return (r.LeftPercent + r.RightPercent) / 2
}

// Signals 每个采样周期的原始信号
type Signals struct {
	Eyes          EyeReading
	HeartRate     *int
	SteeringAngle *float64
	SteeringForce *float64
}
