package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// SampleWriter 持久化存储的批量写入接口
type SampleWriter interface {
	BulkInsertSamples(ctx context.Context, samples []models.Sample) error
}

// OverflowPolicy 缓冲区满时的处理策略
type OverflowPolicy string

const (
	OverflowDropOldest   OverflowPolicy = "drop-oldest"   // 丢弃最早未写入的采样
	OverflowHaltSampling OverflowPolicy = "halt-sampling" // 拒绝新采样直到写入成功
)

// Valid 策略是否合法
func (p OverflowPolicy) Valid() bool {
	return p == OverflowDropOldest || p == OverflowHaltSampling
}

// BufferOptions 缓冲区参数
type BufferOptions struct {
	Capacity         int            // 最大缓存采样数
	Policy           OverflowPolicy // 满时策略
	FlushTimeout     time.Duration  // 单次写入超时
	FlushAttempts    int            // 单次 Flush 内的最大尝试次数
	RetryWait        time.Duration  // 两次尝试之间的等待
	FailureThreshold int            // 连续失败达到该次数后通知运维

	// OnPersistenceFailure 连续失败达到阈值后每次失败都会调用
	OnPersistenceFailure func(consecutiveFailures int, err error)
}

// DefaultBufferOptions 默认参数
func DefaultBufferOptions() BufferOptions {
	return BufferOptions{
		Capacity:         3600,
		Policy:           OverflowDropOldest,
		FlushTimeout:     5 * time.Second,
		FlushAttempts:    3,
		RetryWait:        500 * time.Millisecond,
		FailureThreshold: 3,
	}
}

// FlushResult 异步 Flush 的结果
type FlushResult struct {
	Written int
	Err     error
}

type entry struct {
	seq    uint64
	sample models.Sample
}

// Buffer 采样缓冲区
// 采样写入与 Flush 读取只在持有 mu 时访问序列，I/O 期间不持有 mu，
// Flush 之间由 flushMu 串行化，保证存储中的顺序
type Buffer struct {
	writer SampleWriter
	opts   BufferOptions
	logger *zap.Logger

	mu      sync.Mutex
	entries []entry
	nextSeq uint64
	dropped int

	flushMu  sync.Mutex
	pending  atomic.Bool
	failures int // 连续失败次数，受 flushMu 保护
}

// NewBuffer 创建缓冲区
func NewBuffer(writer SampleWriter, opts BufferOptions, logger *zap.Logger) *Buffer {
	defaults := DefaultBufferOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = defaults.Capacity
	}
	if !opts.Policy.Valid() {
		opts.Policy = defaults.Policy
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaults.FlushTimeout
	}
	if opts.FlushAttempts <= 0 {
		opts.FlushAttempts = 1
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = defaults.FailureThreshold
	}
	return &Buffer{
		writer: writer,
		opts:   opts,
		logger: logger,
	}
}

// Append 追加采样
// 缓冲区满时按策略丢弃最早的采样，或返回 ErrBufferFull
func (b *Buffer) Append(sample models.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.opts.Capacity {
		if b.opts.Policy == OverflowHaltSampling {
			return fmt.Errorf("%w: capacity %d reached", models.ErrBufferFull, b.opts.Capacity)
		}
		dropped := b.entries[0]
		b.entries = b.entries[1:]
		b.dropped++
		b.logger.Warn("Telemetry buffer full, dropping oldest sample",
			zap.Int64("session_id", dropped.sample.SessionID),
			zap.Int64("offset_ms", dropped.sample.OffsetMs),
			zap.Int("capacity", b.opts.Capacity),
		)
	}

	b.nextSeq++
	b.entries = append(b.entries, entry{seq: b.nextSeq, sample: sample})
	return nil
}

// Len 当前缓存的采样数
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped 因缓冲区满而丢弃的采样数
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Flush 将缓存的全部采样交给存储批量写入
// 写入确认后才从缓冲区移除；失败时缓冲区保持不变并返回 ErrPersistenceFailure
// 空缓冲区时不做任何操作
func (b *Buffer) Flush(ctx context.Context) (int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	batch, lastSeq := b.snapshot()
	if len(batch) == 0 {
		return 0, nil
	}

	if err := b.write(ctx, batch); err != nil {
		b.failures++
		b.logger.Warn("Failed to flush telemetry buffer",
			zap.Int("batch_size", len(batch)),
			zap.Int("consecutive_failures", b.failures),
			zap.Error(err),
		)
		if b.failures >= b.opts.FailureThreshold && b.opts.OnPersistenceFailure != nil {
			b.opts.OnPersistenceFailure(b.failures, err)
		}
		return 0, fmt.Errorf("%w: %d samples retained: %w", models.ErrPersistenceFailure, len(batch), err)
	}

	b.release(lastSeq)
	b.failures = 0
	b.logger.Debug("Flushed telemetry buffer",
		zap.Int("batch_size", len(batch)),
		zap.Int64("first_offset_ms", batch[0].OffsetMs),
		zap.Int64("last_offset_ms", batch[len(batch)-1].OffsetMs),
	)
	return len(batch), nil
}

// FlushAsync 在后台执行 Flush，不阻塞采样
// 已有 Flush 在进行中时返回 nil（本次触发合并到下一次）
func (b *Buffer) FlushAsync(ctx context.Context) <-chan FlushResult {
	if !b.pending.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan FlushResult, 1)
	go func() {
		n, err := b.Flush(ctx)
		b.pending.Store(false)
		done <- FlushResult{Written: n, Err: err}
		close(done)
	}()
	return done
}

// ConsecutiveFailures 当前连续失败次数
func (b *Buffer) ConsecutiveFailures() int {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.failures
}

func (b *Buffer) write(ctx context.Context, batch []models.Sample) error {
	var err error
	for attempt := 1; attempt <= b.opts.FlushAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, b.opts.FlushTimeout)
		err = b.writer.BulkInsertSamples(attemptCtx, batch)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == b.opts.FlushAttempts {
			break
		}

		b.logger.Debug("Retrying telemetry flush",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush cancelled after attempt %d: %w", attempt, err)
		case <-time.After(b.opts.RetryWait):
		}
	}
	return err
}

func (b *Buffer) snapshot() ([]models.Sample, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil, 0
	}
	batch := make([]models.Sample, len(b.entries))
	for i, e := range b.entries {
		batch[i] = e.sample
	}
	return batch, b.entries[len(b.entries)-1].seq
}

// release 移除 seq <= lastSeq 的采样（已写入）
func (b *Buffer) release(lastSeq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := 0
	for i < len(b.entries) && b.entries[i].seq <= lastSeq {
		i++
	}
	b.entries = append([]entry(nil), b.entries[i:]...)
}
