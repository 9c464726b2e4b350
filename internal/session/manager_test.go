package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-drowsiness/internal/evaluator"
	"wisefido-drowsiness/internal/models"
	"wisefido-drowsiness/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var sessionStart = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

// memoryStore 内存存储，可注入写入失败
type memoryStore struct {
	mu       sync.Mutex
	drivers  []models.Driver
	sessions map[int64]*models.Session
	batches  [][]models.Sample
	failN    int
	calls    int

	// gate 非 nil 时写入阻塞到 gate 关闭，entered 在写入开始时收到通知
	gate    chan struct{}
	entered chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[int64]*models.Session)}
}

func (s *memoryStore) CreateDriver(_ context.Context, d models.Driver) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers = append(s.drivers, d)
	return int64(len(s.drivers)), nil
}

func (s *memoryStore) CreateSession(_ context.Context, driverID int64, startedAt time.Time, annotation string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.sessions) + 1)
	s.sessions[id] = &models.Session{SessionID: id, DriverID: driverID, StartedAt: startedAt, Annotation: annotation}
	return id, nil
}

func (s *memoryStore) CloseSession(_ context.Context, id int64, endedAt time.Time, annotation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.EndedAt != nil {
		return models.ErrSessionNotFound
	}
	sess.EndedAt = &endedAt
	sess.Annotation = annotation
	return nil
}

func (s *memoryStore) BulkInsertSamples(_ context.Context, samples []models.Sample) error {
	if s.gate != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return errors.New("database unavailable")
	}
	batch := make([]models.Sample, len(samples))
	copy(batch, samples)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *memoryStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.batches))
	for i, b := range s.batches {
		out[i] = len(b)
	}
	return out
}

func (s *memoryStore) persisted() []models.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Sample
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// scriptedSource 按脚本返回睁开度，nil 表示无信号；脚本用完后保持睁眼
type scriptedSource struct {
	openness []*float64
	i        int
}

func (s *scriptedSource) Next(ctx context.Context, _ time.Time) (models.Signals, error) {
	if err := ctx.Err(); err != nil {
		return models.Signals{}, err
	}
	v := 82.0
	if s.i < len(s.openness) {
		if s.openness[s.i] == nil {
			s.i++
			return models.Signals{}, models.ErrSignalUnavailable
		}
		v = *s.openness[s.i]
	}
	s.i++
	hr := 72
	return models.Signals{
		Eyes:      models.EyeReading{Present: true, LeftPercent: v, RightPercent: v},
		HeartRate: &hr,
	}, nil
}

func script(values ...float64) *scriptedSource {
	s := &scriptedSource{}
	for _, v := range values {
		v := v
		s.openness = append(s.openness, &v)
	}
	return s
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (d *recordingDispatcher) Dispatch(e models.AlertEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return true
}

func (d *recordingDispatcher) types() []models.AlertEventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.AlertEventType, len(d.events))
	for i, e := range d.events {
		out[i] = e.Type
	}
	return out
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func testOptions(clock *fixedClock) Options {
	opts := DefaultOptions()
	opts.Buffer.FlushAttempts = 1
	opts.Buffer.RetryWait = 0
	opts.Clock = clock.Now
	return opts
}

func newTestManager(t *testing.T, store *memoryStore, source SignalSource, dispatcher AlertDispatcher) (*Manager, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: sessionStart}
	return NewManager(store, source, dispatcher, testOptions(clock), zap.NewNop()), clock
}

func at(seconds int) time.Time {
	return sessionStart.Add(time.Duration(seconds) * time.Second)
}

func TestManager_125SampleSession(t *testing.T) {
	store := newMemoryStore()
	m, clock := newTestManager(t, store, script(), nil)

	_, err := m.Open(context.Background(), 1)
	require.NoError(t, err)

	timed := 0
	for k := 1; k <= 125; k++ {
		res, err := m.Tick(context.Background(), at(k))
		require.NoError(t, err)
		require.NotNil(t, res.Sample)
		if res.Flush != nil {
			r := <-res.Flush
			require.NoError(t, r.Err)
			assert.Equal(t, 10, r.Written)
			timed++
		}
	}
	assert.Equal(t, 12, timed)

	clock.Set(at(126))
	closed, err := m.Close(context.Background(), "live session finished: 125 samples")
	require.NoError(t, err)

	expected := make([]int, 0, 13)
	for i := 0; i < 12; i++ {
		expected = append(expected, 10)
	}
	expected = append(expected, 5)
	assert.Equal(t, expected, store.batchSizes())

	persisted := store.persisted()
	require.Len(t, persisted, 125)
	for i, s := range persisted {
		assert.Equal(t, int64(i+1)*1000, s.OffsetMs)
		assert.Equal(t, closed.SessionID, s.SessionID)
	}

	stats := m.Stats()
	assert.Equal(t, 125, stats.Samples)
	assert.Equal(t, 125, stats.PersistedSamples)
	assert.Equal(t, 13, stats.Flushes)
	require.NotNil(t, closed.EndedAt)
	assert.Equal(t, at(126), *closed.EndedAt)
	assert.Equal(t, "live session finished: 125 samples", store.sessions[closed.SessionID].Annotation)
}

func TestManager_LifecycleErrors(t *testing.T) {
	store := newMemoryStore()
	m, _ := newTestManager(t, store, script(), nil)
	ctx := context.Background()

	_, err := m.Close(ctx, "")
	assert.ErrorIs(t, err, models.ErrSessionNotOpen)
	assert.ErrorIs(t, err, models.ErrSessionLifecycle)

	_, err = m.Tick(ctx, at(1))
	assert.ErrorIs(t, err, models.ErrSessionNotOpen)

	_, err = m.Open(ctx, 1)
	require.NoError(t, err)
	_, err = m.Open(ctx, 1)
	assert.ErrorIs(t, err, models.ErrSessionAlreadyOpen)
	assert.ErrorIs(t, err, models.ErrSessionLifecycle)

	_, err = m.Close(ctx, "done")
	require.NoError(t, err)
	_, err = m.Close(ctx, "again")
	assert.ErrorIs(t, err, models.ErrSessionNotOpen)
	assert.Nil(t, m.Current())
}

func TestManager_AlertScenario(t *testing.T) {
	store := newMemoryStore()
	dispatcher := &recordingDispatcher{}
	m, _ := newTestManager(t, store, script(82, 82, 0, 0, 0, 0, 82), dispatcher)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	var states []evaluator.AlertState
	var alerting []bool
	for k := 0; k <= 6; k++ {
		res, err := m.Tick(ctx, at(k))
		require.NoError(t, err)
		require.NotNil(t, res.Sample)
		states = append(states, res.Decision.State)
		alerting = append(alerting, res.Sample.VisualAlert && res.Sample.AudibleAlert)
	}

	assert.Equal(t, []evaluator.AlertState{
		evaluator.StateAwake, evaluator.StateAwake,
		evaluator.StateClosing, evaluator.StateClosing,
		evaluator.StateAlerting, evaluator.StateAlerting,
		evaluator.StateAwake,
	}, states)
	assert.Equal(t, []bool{false, false, false, false, true, true, false}, alerting)
	assert.Equal(t, []models.AlertEventType{models.AlertOn, models.AlertOff}, dispatcher.types())
	assert.Equal(t, int64(4000), dispatcher.events[0].OffsetMs)
	assert.Equal(t, int64(2000), dispatcher.events[0].ClosedForMs)
	assert.NotEmpty(t, dispatcher.events[0].EventID)

	stats := m.Stats()
	assert.Equal(t, 1, stats.AlertsRaised)
	assert.Equal(t, 1, stats.AlertsCleared)
}

func TestManager_CloseWhileAlertingClearsAlert(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	m, clock := newTestManager(t, newMemoryStore(), script(0, 0, 0), dispatcher)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)
	for k := 0; k <= 2; k++ {
		_, err := m.Tick(ctx, at(k))
		require.NoError(t, err)
	}

	clock.Set(at(3))
	_, err = m.Close(ctx, "interrupted")
	require.NoError(t, err)

	assert.Equal(t, []models.AlertEventType{models.AlertOn, models.AlertOff}, dispatcher.types())
}

func TestManager_NoSignalTicksResetTimerAndSkipSample(t *testing.T) {
	zero := 0.0
	source := &scriptedSource{openness: []*float64{&zero, nil, &zero, &zero, &zero}}
	m, _ := newTestManager(t, newMemoryStore(), source, nil)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	var states []evaluator.AlertState
	for k := 0; k <= 4; k++ {
		res, err := m.Tick(ctx, at(k))
		require.NoError(t, err)
		if k == 1 {
			assert.Nil(t, res.Sample)
		}
		states = append(states, res.Decision.State)
	}

	// 无信号周期重置闭眼计时：k=2 重新开始，k=4 才报警
	assert.Equal(t, []evaluator.AlertState{
		evaluator.StateClosing, evaluator.StateAwake,
		evaluator.StateClosing, evaluator.StateClosing, evaluator.StateAlerting,
	}, states)
	stats := m.Stats()
	assert.Equal(t, 5, stats.Ticks)
	assert.Equal(t, 4, stats.Samples)
	assert.Equal(t, 1, stats.NoSignalTicks)
}

func TestManager_OrderingViolation(t *testing.T) {
	m, _ := newTestManager(t, newMemoryStore(), script(), nil)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	_, err = m.Tick(ctx, at(2))
	require.NoError(t, err)
	_, err = m.Tick(ctx, at(2))
	assert.ErrorIs(t, err, models.ErrOrderingViolation)
	_, err = m.Tick(ctx, at(1))
	assert.ErrorIs(t, err, models.ErrOrderingViolation)
}

func TestManager_FailedFinalFlushKeepsSessionOpen(t *testing.T) {
	store := newMemoryStore()
	store.failN = 1
	m, clock := newTestManager(t, store, script(), nil)
	ctx := context.Background()
	opened, err := m.Open(ctx, 1)
	require.NoError(t, err)
	for k := 1; k <= 3; k++ {
		_, err := m.Tick(ctx, at(k))
		require.NoError(t, err)
	}

	clock.Set(at(4))
	_, err = m.Close(ctx, "finished")
	assert.ErrorIs(t, err, models.ErrPersistenceFailure)
	require.NotNil(t, m.Current())
	assert.Nil(t, store.sessions[opened.SessionID].EndedAt)
	assert.Equal(t, 3, m.Stats().BufferedSamples)

	// 存储恢复后再次关闭成功，没有采样丢失
	closed, err := m.Close(ctx, "finished")
	require.NoError(t, err)
	assert.Len(t, store.persisted(), 3)
	assert.NotNil(t, closed.EndedAt)
	assert.Equal(t, 1, m.Stats().FlushFailures)
	assert.Equal(t, 0, m.Stats().BufferedSamples)
}

func TestManager_TimedFlushFailureRetriedOnNextTrigger(t *testing.T) {
	store := newMemoryStore()
	store.failN = 1
	m, clock := newTestManager(t, store, script(), nil)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	var results []telemetry.FlushResult
	for k := 1; k <= 20; k++ {
		res, err := m.Tick(ctx, at(k))
		require.NoError(t, err)
		if res.Flush != nil {
			results = append(results, <-res.Flush)
		}
	}

	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, models.ErrPersistenceFailure)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 20, results[1].Written)

	clock.Set(at(21))
	_, err = m.Close(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, []int{20}, store.batchSizes())
}

func TestManager_CloseFlushesExactlyOnce(t *testing.T) {
	store := newMemoryStore()
	m, clock := newTestManager(t, store, script(), nil)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)
	for k := 1; k <= 4; k++ {
		_, err := m.Tick(ctx, at(k))
		require.NoError(t, err)
	}

	clock.Set(at(5))
	_, err = m.Close(ctx, "done")
	require.NoError(t, err)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, []int{4}, store.batchSizes())
}

func TestManager_CloseWaitsForInFlightTimedFlush(t *testing.T) {
	store := newMemoryStore()
	store.gate = make(chan struct{})
	store.entered = make(chan struct{}, 1)
	m, clock := newTestManager(t, store, script(), nil)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	var timed <-chan telemetry.FlushResult
	for k := 1; k <= 12; k++ {
		res, err := m.Tick(ctx, at(k))
		require.NoError(t, err)
		if res.Flush != nil {
			timed = res.Flush
			<-store.entered
		}
	}
	require.NotNil(t, timed)

	clock.Set(at(13))
	closed := make(chan error, 1)
	go func() {
		_, err := m.Close(ctx, "done")
		closed <- err
	}()

	select {
	case <-closed:
		t.Fatal("close returned while a timed flush was still writing")
	case <-time.After(50 * time.Millisecond):
	}
	close(store.gate)
	require.NoError(t, <-closed)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Flushes)
	assert.Equal(t, 12, stats.PersistedSamples)
	assert.Equal(t, []int{10, 2}, store.batchSizes())
	assert.NoError(t, (<-timed).Err)
}

func TestManager_EndNotBeforeStart(t *testing.T) {
	store := newMemoryStore()
	m, clock := newTestManager(t, store, script(), nil)
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	// 时钟回拨
	clock.Set(sessionStart.Add(-time.Minute))
	closed, err := m.Close(ctx, "clock skew")
	require.NoError(t, err)

	require.NotNil(t, closed.EndedAt)
	assert.False(t, closed.EndedAt.Before(closed.StartedAt))
	assert.Equal(t, 0, store.calls, "empty buffer flush is a no-op")
}

func TestManager_HaltSamplingKeepsEvaluating(t *testing.T) {
	clock := &fixedClock{t: sessionStart}
	opts := testOptions(clock)
	opts.FlushInterval = 0
	opts.Buffer.Capacity = 2
	opts.Buffer.Policy = telemetry.OverflowHaltSampling
	dispatcher := &recordingDispatcher{}
	m := NewManager(newMemoryStore(), script(0, 0, 0, 0), dispatcher, opts, zap.NewNop())
	ctx := context.Background()
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	var last TickResult
	for k := 0; k <= 3; k++ {
		last, err = m.Tick(ctx, at(k))
		require.NoError(t, err)
	}

	assert.Nil(t, last.Sample)
	assert.Equal(t, evaluator.StateAlerting, last.Decision.State)
	assert.Equal(t, []models.AlertEventType{models.AlertOn}, dispatcher.types())
	stats := m.Stats()
	assert.Equal(t, 2, stats.Samples)
	assert.Equal(t, 2, stats.RejectedSamples)
}

func TestManager_SourceError(t *testing.T) {
	m, _ := newTestManager(t, newMemoryStore(), script(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.Open(ctx, 1)
	require.NoError(t, err)

	cancel()
	_, err = m.Tick(ctx, at(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	clock := &fixedClock{t: time.Now()}
	opts := testOptions(clock)
	opts.SamplingPeriod = 5 * time.Millisecond
	store := newMemoryStore()
	m := NewManager(store, script(), nil, opts, zap.NewNop())

	assert.ErrorIs(t, m.Run(context.Background()), models.ErrSessionNotOpen)

	_, err := m.Open(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	assert.Greater(t, m.Stats().Samples, 0)
	_, err = m.Close(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, m.Stats().Samples, len(store.persisted()))
}

func TestManager_RegisterDriver(t *testing.T) {
	store := newMemoryStore()
	m, _ := newTestManager(t, store, script(), nil)

	id, err := m.RegisterDriver(context.Background(), models.Driver{LastName: "Durand"})

	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}
