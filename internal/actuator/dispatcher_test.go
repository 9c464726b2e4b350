package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-drowsiness/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyActuator 第一次 alert-on 失败，之后成功
type flakyActuator struct {
	recordingActuator
	onCalls int
}

func (f *flakyActuator) AlertOn(ctx context.Context, e models.AlertEvent) error {
	f.mu.Lock()
	f.onCalls++
	first := f.onCalls == 1
	f.mu.Unlock()
	if first {
		return errors.New("actuator unreachable")
	}
	return f.recordingActuator.AlertOn(ctx, e)
}

// blockingActuator 一直阻塞到 ctx 结束
type blockingActuator struct{}

func (blockingActuator) AlertOn(ctx context.Context, _ models.AlertEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingActuator) AlertOff(ctx context.Context, _ models.AlertEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func collect(d *Dispatcher) (func() []DispatchResult, *sync.Mutex) {
	var mu sync.Mutex
	var results []DispatchResult
	d.OnResult(func(r DispatchResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	return func() []DispatchResult {
		mu.Lock()
		defer mu.Unlock()
		return append([]DispatchResult(nil), results...)
	}, &mu
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &recordingActuator{}
	d := NewDispatcher(rec, time.Second, zap.NewNop())

	require.True(t, d.Dispatch(alertEvent(models.AlertOn, 4000)))
	require.True(t, d.Dispatch(alertEvent(models.AlertOff, 6000)))
	require.True(t, d.Dispatch(alertEvent(models.AlertOn, 9000)))
	d.Stop()

	assert.Equal(t, []models.AlertEventType{models.AlertOn, models.AlertOff, models.AlertOn}, rec.types())
	delivered, failed := d.Stats()
	assert.Equal(t, 3, delivered)
	assert.Equal(t, 0, failed)
}

func TestDispatcher_FailedAlertOnRetriedOnNextEdge(t *testing.T) {
	act := &flakyActuator{}
	d := NewDispatcher(act, time.Second, zap.NewNop())
	results, _ := collect(d)

	d.Dispatch(alertEvent(models.AlertOn, 4000))
	require.Eventually(t, func() bool { return len(results()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Error(t, results()[0].Err)
	assert.True(t, d.PendingAlertOn())

	// 报警期间不重试，直到下一次 alert-on 边沿
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, results(), 1)

	d.Dispatch(alertEvent(models.AlertOff, 6000))
	d.Dispatch(alertEvent(models.AlertOn, 9000))
	d.Stop()

	assert.Len(t, results(), 3)
	assert.False(t, d.PendingAlertOn())
	assert.Equal(t, []models.AlertEventType{models.AlertOff, models.AlertOn}, act.types())
	delivered, failed := d.Stats()
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, failed)
}

func TestDispatcher_DoesNotBlockCaller(t *testing.T) {
	d := NewDispatcher(blockingActuator{}, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		assert.True(t, d.Dispatch(alertEvent(models.AlertOn, int64(i)*1000)))
	}
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	d.Stop()
	_, failed := d.Stats()
	assert.Equal(t, 3, failed, "each call bounded by the timeout")
}

func TestDispatcher_DispatchAfterStop(t *testing.T) {
	d := NewDispatcher(&recordingActuator{}, time.Second, zap.NewNop())
	d.Stop()
	d.Stop()

	assert.False(t, d.Dispatch(alertEvent(models.AlertOn, 4000)))
}
