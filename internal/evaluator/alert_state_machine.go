package evaluator

import (
	"time"

	"wisefido-drowsiness/internal/models"
)

// DefaultAlertDuration 双眼持续闭合多久后报警
const DefaultAlertDuration = 2 * time.Second

// AlertState 报警状态
type AlertState int

const (
	StateAwake    AlertState = iota // 清醒，计时器未设置
	StateClosing                    // 双眼闭合计时中
	StateAlerting                   // 持续闭合超过阈值，报警中
)

func (s AlertState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateClosing:
		return "closing"
	case StateAlerting:
		return "alerting"
	default:
		return "unknown"
	}
}

// Transition 本次评估产生的边沿事件
type Transition int

const (
	TransitionNone Transition = iota
	TransitionAlertOn
	TransitionAlertOff
)

// Decision 单次评估结果
type Decision struct {
	State      AlertState
	Transition Transition
	ClosedFor  time.Duration // 当前连续闭合时长（未闭合时为 0）
}

// Alerting 本周期是否处于报警状态（视觉与声音报警同时置位）
func (d Decision) Alerting() bool {
	return d.State == StateAlerting
}

// AlertStateMachine 闭眼报警状态机
// 只依赖传入的时间戳，不读取系统时钟，同样的输入序列得到同样的输出
type AlertStateMachine struct {
	alertDuration time.Duration
	state         AlertState
	closedSince   time.Time
}

// NewAlertStateMachine 创建状态机，初始为 Awake
func NewAlertStateMachine(alertDuration time.Duration) *AlertStateMachine {
	if alertDuration <= 0 {
		alertDuration = DefaultAlertDuration
	}
	return &AlertStateMachine{
		alertDuration: alertDuration,
		state:         StateAwake,
	}
}

// Evaluate 每个采样周期调用一次
// 任一只眼睁开度 > 0 或无信号都会清除计时器；双眼为 0 时开始或继续计时
func (m *AlertStateMachine) Evaluate(reading models.EyeReading, at time.Time) Decision {
	if !reading.BothClosed() {
		previous := m.state
		m.state = StateAwake
		m.closedSince = time.Time{}
		if previous == StateAlerting {
			return Decision{State: StateAwake, Transition: TransitionAlertOff}
		}
		return Decision{State: StateAwake}
	}

	if m.state == StateAwake {
		m.state = StateClosing
		m.closedSince = at
		return Decision{State: StateClosing}
	}

	closedFor := at.Sub(m.closedSince)
	if closedFor < 0 {
		closedFor = 0
	}

	switch {
	case m.state == StateAlerting:
		return Decision{State: StateAlerting, ClosedFor: closedFor}
	case closedFor >= m.alertDuration:
		m.state = StateAlerting
		return Decision{State: StateAlerting, Transition: TransitionAlertOn, ClosedFor: closedFor}
	default:
		return Decision{State: StateClosing, ClosedFor: closedFor}
	}
}

// State 当前状态
func (m *AlertStateMachine) State() AlertState {
	return m.state
}

