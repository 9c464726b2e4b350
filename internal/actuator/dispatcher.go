package actuator

import (
	"context"
	"sync"
	"time"

	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// DefaultQueueSize 待发送事件队列长度（只有边沿事件入队，数量很少）
const DefaultQueueSize = 64

// DispatchResult 单个事件的发送结果
type DispatchResult struct {
	Event models.AlertEvent
	Err   error
}

// Dispatcher 在后台按顺序发送报警事件，不阻塞采样循环
// 发送失败只记录日志；失败的 alert-on 在下一次 alert-on 边沿时重新发送，不按周期重试
type Dispatcher struct {
	actuator Actuator
	timeout  time.Duration
	logger   *zap.Logger

	queue chan models.AlertEvent
	done  chan struct{}

	mu        sync.Mutex
	stopped   bool
	pendingOn bool // 上一次 alert-on 发送失败
	delivered int
	failed    int
	onResult  func(DispatchResult)
	stopOnce  sync.Once
}

// NewDispatcher 创建并启动发送协程
func NewDispatcher(actuator Actuator, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := &Dispatcher{
		actuator: actuator,
		timeout:  timeout,
		logger:   logger,
		queue:    make(chan models.AlertEvent, DefaultQueueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// OnResult 设置发送结果回调（测试与统计用），需在 Dispatch 前设置
func (d *Dispatcher) OnResult(fn func(DispatchResult)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResult = fn
}

// Dispatch 事件入队，立即返回
// 队列已满或已停止时丢弃事件并返回 false
func (d *Dispatcher) Dispatch(event models.AlertEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		d.logger.Warn("Alert dispatcher stopped, dropping event",
			zap.String("type", string(event.Type)),
			zap.Int64("session_id", event.SessionID),
		)
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		d.logger.Warn("Alert dispatch queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.Int64("session_id", event.SessionID),
		)
		return false
	}
}

// Stop 停止接收新事件并等待队列中的事件发送完成
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.done
}

// Stats 已成功与失败的发送次数
func (d *Dispatcher) Stats() (delivered, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered, d.failed
}

// PendingAlertOn 上一次 alert-on 是否发送失败
func (d *Dispatcher) PendingAlertOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingOn
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event models.AlertEvent) {
	d.mu.Lock()
	retrying := event.Type == models.AlertOn && d.pendingOn
	d.mu.Unlock()

	if retrying {
		d.logger.Info("Retrying alert-on after previous failure",
			zap.Int64("session_id", event.SessionID),
			zap.String("event_id", event.EventID),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	err := Deliver(ctx, d.actuator, event)
	cancel()

	d.mu.Lock()
	if err != nil {
		d.failed++
		if event.Type == models.AlertOn {
			d.pendingOn = true
		}
	} else {
		d.delivered++
		if event.Type == models.AlertOn {
			d.pendingOn = false
		}
	}
	onResult := d.onResult
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("Failed to deliver alert event",
			zap.String("type", string(event.Type)),
			zap.Int64("session_id", event.SessionID),
			zap.Int64("offset_ms", event.OffsetMs),
			zap.Error(err),
		)
	}
	if onResult != nil {
		onResult(DispatchResult{Event: event, Err: err})
	}
}
