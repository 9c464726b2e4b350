package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSignalUnavailable 本周期没有关键点（未检测到人脸）
	ErrSignalUnavailable = errors.New("signal unavailable")

	// ErrOrderingViolation 采样偏移不是严格递增
	ErrOrderingViolation = errors.New("sample ordering violation")

	// ErrInvalidSample 采样字段超出取值范围
	ErrInvalidSample = errors.New("invalid sample")

	// ErrPersistenceFailure 批量写入失败，缓冲区保留
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrBufferFull 缓冲区已满且策略为 halt-sampling
	ErrBufferFull = errors.New("telemetry buffer full")

	// ErrSessionLifecycle 会话生命周期使用错误
	ErrSessionLifecycle = errors.New("session lifecycle error")

	ErrSessionAlreadyOpen = fmt.Errorf("%w: a session is already open", ErrSessionLifecycle)
	ErrSessionNotOpen     = fmt.Errorf("%w: no session is open", ErrSessionLifecycle)

	// ErrSessionNotFound 存储中不存在该进行中的会话
	ErrSessionNotFound = errors.New("session not found")
)
