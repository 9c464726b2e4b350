package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-drowsiness/internal/evaluator"
	"wisefido-drowsiness/internal/models"
	"wisefido-drowsiness/internal/telemetry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpenAnnotation 会话进行中的默认备注
const OpenAnnotation = "live session in progress"

// SignalSource 每个采样周期提供一组原始信号
// 无人脸等情况返回 models.ErrSignalUnavailable，其他错误中止本次采样
type SignalSource interface {
	Next(ctx context.Context, at time.Time) (models.Signals, error)
}

// Store 持久化存储
type Store interface {
	CreateDriver(ctx context.Context, driver models.Driver) (int64, error)
	CreateSession(ctx context.Context, driverID int64, startedAt time.Time, annotation string) (int64, error)
	CloseSession(ctx context.Context, sessionID int64, endedAt time.Time, annotation string) error
	BulkInsertSamples(ctx context.Context, samples []models.Sample) error
}

// AlertDispatcher 报警事件发送（异步，不阻塞采样）
type AlertDispatcher interface {
	Dispatch(event models.AlertEvent) bool
}

// Options 会话参数
type Options struct {
	AlertDuration  time.Duration // 持续闭眼多久后报警
	FlushInterval  time.Duration // 定时写入间隔，<= 0 时只在关闭会话时写入
	SamplingPeriod time.Duration // Run 的采样周期
	Buffer         telemetry.BufferOptions
	Clock          func() time.Time // 为空时使用 time.Now

	// OnPersistenceFailure 连续写入失败达到阈值后调用（运维通道）
	OnPersistenceFailure func(sessionID int64, consecutiveFailures int, err error)
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		AlertDuration:  evaluator.DefaultAlertDuration,
		FlushInterval:  10 * time.Second,
		SamplingPeriod: time.Second,
		Buffer:         telemetry.DefaultBufferOptions(),
	}
}

// Stats 会话统计
type Stats struct {
	Ticks            int
	Samples          int // 进入缓冲区的采样数
	NoSignalTicks    int
	RejectedSamples  int // 校验失败或缓冲区已满被拒绝
	AlertsRaised     int
	AlertsCleared    int
	Flushes          int
	FlushFailures    int
	PersistedSamples int
	DroppedSamples   int
	BufferedSamples  int // 最近一次写入后仍留在缓冲区的采样数
}

// TickResult 一个采样周期的结果
type TickResult struct {
	Sample   *models.Sample // 无信号或被拒绝时为 nil
	Decision evaluator.Decision
	Flush    <-chan telemetry.FlushResult // 本周期触发了定时写入时非 nil
}

// Manager 驾驶会话管理器（一个采样循环一个实例）
// 同一时刻最多一个进行中的会话，报警状态、采样构建器与缓冲区都随会话新建
type Manager struct {
	store      Store
	source     SignalSource
	dispatcher AlertDispatcher
	opts       Options
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	session     *models.Session
	machine     *evaluator.AlertStateMachine
	builder     *telemetry.SampleBuilder
	buffer      *telemetry.Buffer
	lastFlushAt time.Time
	flushWG     sync.WaitGroup // 进行中的定时写入（含统计）

	statsMu sync.Mutex
	stats   Stats
}

// NewManager 创建会话管理器，dispatcher 可为 nil
func NewManager(store Store, source SignalSource, dispatcher AlertDispatcher, opts Options, logger *zap.Logger) *Manager {
	if opts.SamplingPeriod <= 0 {
		opts.SamplingPeriod = time.Second
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
		now:        now,
	}
}

// RegisterDriver 登记驾驶员
func (m *Manager) RegisterDriver(ctx context.Context, driver models.Driver) (int64, error) {
	id, err := m.store.CreateDriver(ctx, driver)
	if err != nil {
		return 0, fmt.Errorf("failed to register driver: %w", err)
	}
	return id, nil
}

// Open 以当前时间为开始时间打开会话
func (m *Manager) Open(ctx context.Context, driverID int64) (*models.Session, error) {
	return m.OpenAt(ctx, driverID, m.now())
}

// OpenAt 以指定开始时间打开会话（批量回放使用）
func (m *Manager) OpenAt(ctx context.Context, driverID int64, startedAt time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return nil, fmt.Errorf("%w (session %d)", models.ErrSessionAlreadyOpen, m.session.SessionID)
	}

	id, err := m.store.CreateSession(ctx, driverID, startedAt, OpenAnnotation)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	m.session = &models.Session{
		SessionID:  id,
		DriverID:   driverID,
		StartedAt:  startedAt,
		Annotation: OpenAnnotation,
	}
	m.machine = evaluator.NewAlertStateMachine(m.opts.AlertDuration)
	m.builder = telemetry.NewSampleBuilder(id)
	bufferOpts := m.opts.Buffer
	if hook := m.opts.OnPersistenceFailure; hook != nil {
		bufferOpts.OnPersistenceFailure = func(failures int, err error) {
			hook(id, failures, err)
		}
	}
	m.buffer = telemetry.NewBuffer(m.store, bufferOpts, m.logger.With(zap.Int64("session_id", id)))
	m.lastFlushAt = startedAt

	m.statsMu.Lock()
	m.stats = Stats{}
	m.statsMu.Unlock()

	m.logger.Info("Session opened",
		zap.Int64("session_id", id),
		zap.Int64("driver_id", driverID),
		zap.Time("started_at", startedAt),
	)
	s := *m.session
	return &s, nil
}

// Current 当前进行中的会话，没有时返回 nil
func (m *Manager) Current() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Stats 当前（或最近一次）会话的统计
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Tick 执行一个采样周期：取信号 -> 报警状态机 -> 构建采样 -> 写入缓冲区
// 偏移不递增时返回 ErrOrderingViolation，调用方应停止该会话的采样
func (m *Manager) Tick(ctx context.Context, at time.Time) (TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return TickResult{}, models.ErrSessionNotOpen
	}

	signals, err := m.source.Next(ctx, at)
	noSignal := false
	if err != nil {
		if !errors.Is(err, models.ErrSignalUnavailable) {
			return TickResult{}, fmt.Errorf("failed to read signals: %w", err)
		}
		noSignal = true
		signals.Eyes = models.NoSignal()
	}

	decision := m.machine.Evaluate(signals.Eyes, at)
	offsetMs := at.Sub(m.session.StartedAt).Milliseconds()
	m.dispatch(decision, offsetMs, at)

	result := TickResult{Decision: decision}
	m.updateStats(func(s *Stats) { s.Ticks++ })

	if noSignal {
		m.updateStats(func(s *Stats) { s.NoSignalTicks++ })
	} else {
		sample, err := m.builder.Build(telemetry.SampleInput{
			OffsetMs:      offsetMs,
			EyeOpenness:   signals.Eyes.Openness(),
			Alerting:      decision.Alerting(),
			HeartRate:     signals.HeartRate,
			SteeringAngle: signals.SteeringAngle,
			SteeringForce: signals.SteeringForce,
		})
		switch {
		case errors.Is(err, models.ErrOrderingViolation):
			return result, err
		case err != nil:
			m.updateStats(func(s *Stats) { s.RejectedSamples++ })
			m.logger.Warn("Sample rejected", zap.Int64("offset_ms", offsetMs), zap.Error(err))
		default:
			if err := m.buffer.Append(sample); err != nil {
				m.updateStats(func(s *Stats) { s.RejectedSamples++ })
				m.logger.Warn("Sample not buffered", zap.Int64("offset_ms", offsetMs), zap.Error(err))
			} else {
				m.updateStats(func(s *Stats) { s.Samples++ })
				result.Sample = &sample
			}
		}
	}

	if m.opts.FlushInterval > 0 && at.Sub(m.lastFlushAt) >= m.opts.FlushInterval {
		m.lastFlushAt = at
		result.Flush = m.flushAsync(context.WithoutCancel(ctx))
	}
	return result, nil
}

// Close 关闭会话：最终写入缓冲区，写入结束时间与备注
// 最终写入失败时会话保持打开，可以再次调用 Close
func (m *Manager) Close(ctx context.Context, annotation string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, models.ErrSessionNotOpen
	}
	id := m.session.SessionID

	// 等待定时写入完成并计入统计，再做最终写入
	m.flushWG.Wait()
	n, err := m.buffer.Flush(ctx)
	m.recordFlush(m.buffer, n, err)
	if err != nil {
		return nil, fmt.Errorf("failed to flush session %d before close: %w", id, err)
	}

	endedAt := m.now()
	if endedAt.Before(m.session.StartedAt) {
		endedAt = m.session.StartedAt
	}
	if err := m.store.CloseSession(ctx, id, endedAt, annotation); err != nil {
		return nil, fmt.Errorf("failed to close session %d: %w", id, err)
	}

	if m.machine.State() == evaluator.StateAlerting {
		m.send(models.AlertOff, endedAt.Sub(m.session.StartedAt).Milliseconds(), 0, endedAt)
	}

	closed := *m.session
	closed.EndedAt = &endedAt
	closed.Annotation = annotation
	m.session = nil

	stats := m.Stats()
	m.logger.Info("Session closed",
		zap.Int64("session_id", id),
		zap.Duration("duration", endedAt.Sub(closed.StartedAt)),
		zap.Int("ticks", stats.Ticks),
		zap.Int("samples", stats.Samples),
		zap.Int("persisted_samples", stats.PersistedSamples),
		zap.Int("no_signal_ticks", stats.NoSignalTicks),
		zap.Int("rejected_samples", stats.RejectedSamples),
		zap.Int("alerts_raised", stats.AlertsRaised),
		zap.Int("flushes", stats.Flushes),
		zap.Int("flush_failures", stats.FlushFailures),
		zap.Int("dropped_samples", stats.DroppedSamples),
	)
	return &closed, nil
}

// Run 按采样周期循环执行 Tick，直到 ctx 结束或出现顺序错误
// 不关闭会话，由调用方在返回后调用 Close
func (m *Manager) Run(ctx context.Context) error {
	if m.Current() == nil {
		return models.ErrSessionNotOpen
	}

	ticker := time.NewTicker(m.opts.SamplingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if _, err := m.Tick(ctx, t); err != nil {
				if errors.Is(err, models.ErrOrderingViolation) {
					m.logger.Error("Sampling halted", zap.Error(err))
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Warn("Tick failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) flushAsync(ctx context.Context) <-chan telemetry.FlushResult {
	buffer := m.buffer
	done := buffer.FlushAsync(ctx)
	if done == nil {
		m.logger.Debug("Flush already in flight, trigger coalesced")
		return nil
	}

	out := make(chan telemetry.FlushResult, 1)
	m.flushWG.Add(1)
	go func() {
		defer m.flushWG.Done()
		result := <-done
		m.recordFlush(buffer, result.Written, result.Err)
		if result.Err != nil {
			m.logger.Warn("Timed flush failed, samples retained for next trigger",
				zap.Int("buffered_samples", buffer.Len()),
				zap.Int("consecutive_failures", buffer.ConsecutiveFailures()),
				zap.Error(result.Err),
			)
		}
		out <- result
		close(out)
	}()
	return out
}

func (m *Manager) recordFlush(buffer *telemetry.Buffer, written int, err error) {
	dropped := buffer.Dropped()
	buffered := buffer.Len()
	m.updateStats(func(s *Stats) {
		if err != nil {
			s.FlushFailures++
		} else if written > 0 {
			s.Flushes++
			s.PersistedSamples += written
		}
		s.DroppedSamples = dropped
		s.BufferedSamples = buffered
	})
}

func (m *Manager) dispatch(decision evaluator.Decision, offsetMs int64, at time.Time) {
	switch decision.Transition {
	case evaluator.TransitionAlertOn:
		m.updateStats(func(s *Stats) { s.AlertsRaised++ })
		m.send(models.AlertOn, offsetMs, decision.ClosedFor, at)
	case evaluator.TransitionAlertOff:
		m.updateStats(func(s *Stats) { s.AlertsCleared++ })
		m.send(models.AlertOff, offsetMs, 0, at)
	}
}

func (m *Manager) send(eventType models.AlertEventType, offsetMs int64, closedFor time.Duration, at time.Time) {
	if m.dispatcher == nil {
		return
	}
	m.dispatcher.Dispatch(models.AlertEvent{
		EventID:     uuid.New().String(),
		Type:        eventType,
		SessionID:   m.session.SessionID,
		OffsetMs:    offsetMs,
		ClosedForMs: closedFor.Milliseconds(),
		TriggeredAt: at,
	})
}

func (m *Manager) updateStats(fn func(*Stats)) {
	m.statsMu.Lock()
	fn(&m.stats)
	m.statsMu.Unlock()
}
