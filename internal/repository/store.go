package repository

import (
	"database/sql"

	"go.uber.org/zap"
)

// PostgresStore 持久化存储，组合三个仓库
type PostgresStore struct {
	*DriverRepository
	*SessionRepository
	*SampleRepository
}

// NewPostgresStore 创建持久化存储
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		DriverRepository:  NewDriverRepository(db, logger),
		SessionRepository: NewSessionRepository(db, logger),
		SampleRepository:  NewSampleRepository(db, logger),
	}
}
