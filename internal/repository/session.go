package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// SessionRepository 驾驶会话仓库
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSession 创建会话（ended_at 为 NULL），返回新的 session_id
func (r *SessionRepository) CreateSession(ctx context.Context, driverID int64, startedAt time.Time, annotation string) (int64, error) {
	query := `
		INSERT INTO sessions (driver_id, started_at, ended_at, annotation)
		VALUES ($1, $2, NULL, $3)
		RETURNING session_id
	`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, driverID, startedAt, annotation).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// CloseSession 写入结束时间与备注
// 只更新仍在进行中的会话，会话不存在或已结束时返回 ErrSessionNotFound
func (r *SessionRepository) CloseSession(ctx context.Context, sessionID int64, endedAt time.Time, annotation string) error {
	query := `
		UPDATE sessions
		SET ended_at = $2, annotation = $3
		WHERE session_id = $1 AND ended_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, sessionID, endedAt, annotation)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: session %d", models.ErrSessionNotFound, sessionID)
	}
	return nil
}

// GetSession 查询会话
func (r *SessionRepository) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `
		SELECT session_id, driver_id, started_at, ended_at, COALESCE(annotation, '')
		FROM sessions
		WHERE session_id = $1
	`

	var s models.Session
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&s.SessionID, &s.DriverID, &s.StartedAt, &endedAt, &s.Annotation)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %d", models.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}
