package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// InsertChunkSize 单条 INSERT 语句的最大行数
const InsertChunkSize = 500

const sampleColumns = 8

// SampleRepository 采样仓库
type SampleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSampleRepository 创建采样仓库
func NewSampleRepository(db *sql.DB, logger *zap.Logger) *SampleRepository {
	return &SampleRepository{
		db:     db,
		logger: logger,
	}
}

// BulkInsertSamples 在一个事务内批量写入采样，全部成功或全部失败
func (r *SampleRepository) BulkInsertSamples(ctx context.Context, samples []models.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(samples); start += InsertChunkSize {
		end := start + InsertChunkSize
		if end > len(samples) {
			end = len(samples)
		}
		query, args := buildSampleInsert(samples[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert samples [%d:%d]: %w", start, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}

	r.logger.Debug("Samples inserted",
		zap.Int64("session_id", samples[0].SessionID),
		zap.Int("count", len(samples)),
	)
	return nil
}

// ListSessionSamples 按偏移升序读取会话的全部采样
func (r *SampleRepository) ListSessionSamples(ctx context.Context, sessionID int64) ([]models.Sample, error) {
	query := `
		SELECT session_id, offset_ms, eye_openness, heart_rate,
		       visual_alert, audible_alert, steering_angle, steering_force
		FROM samples
		WHERE session_id = $1
		ORDER BY offset_ms
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var s models.Sample
		var angle, force sql.NullFloat64
		if err := rows.Scan(&s.SessionID, &s.OffsetMs, &s.EyeOpenness, &s.HeartRate,
			&s.VisualAlert, &s.AudibleAlert, &angle, &force); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if angle.Valid {
			s.SteeringAngle = &angle.Float64
		}
		if force.Valid {
			s.SteeringForce = &force.Float64
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}
	return samples, nil
}

func buildSampleInsert(samples []models.Sample) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO samples (session_id, offset_ms, eye_openness, heart_rate, visual_alert, audible_alert, steering_angle, steering_force) VALUES `)

	args := make([]interface{}, 0, len(samples)*sampleColumns)
	for i, s := range samples {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * sampleColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args, s.SessionID, s.OffsetMs, s.EyeOpenness, s.HeartRate,
			s.VisualAlert, s.AudibleAlert, nullableFloat(s.SteeringAngle), nullableFloat(s.SteeringForce))
	}
	return b.String(), args
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
