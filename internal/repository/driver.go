package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-drowsiness/internal/models"

	"go.uber.org/zap"
)

// DriverRepository 驾驶员仓库
type DriverRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDriverRepository 创建驾驶员仓库
func NewDriverRepository(db *sql.DB, logger *zap.Logger) *DriverRepository {
	return &DriverRepository{
		db:     db,
		logger: logger,
	}
}

// CreateDriver 创建驾驶员，返回新的 driver_id
func (r *DriverRepository) CreateDriver(ctx context.Context, driver models.Driver) (int64, error) {
	if driver.LastName == "" {
		return 0, fmt.Errorf("%w: driver last name is required", models.ErrInvalidSample)
	}

	query := `
		INSERT INTO drivers (last_name, first_name, birth_date)
		VALUES ($1, $2, $3)
		RETURNING driver_id
	`

	var birthDate interface{}
	if driver.BirthDate != nil {
		birthDate = driver.BirthDate.Format("2006-01-02")
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, driver.LastName, driver.FirstName, birthDate).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert driver: %w", err)
	}

	r.logger.Info("Driver registered",
		zap.Int64("driver_id", id),
		zap.String("last_name", driver.LastName),
	)
	return id, nil
}

// GetDriver 查询驾驶员
func (r *DriverRepository) GetDriver(ctx context.Context, driverID int64) (*models.Driver, error) {
	query := `
		SELECT driver_id, last_name, first_name, birth_date
		FROM drivers
		WHERE driver_id = $1
	`

	var d models.Driver
	var firstName sql.NullString
	var birthDate sql.NullTime
	err := r.db.QueryRowContext(ctx, query, driverID).Scan(&d.DriverID, &d.LastName, &firstName, &birthDate)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("driver %d not found", driverID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query driver: %w", err)
	}

	if firstName.Valid {
		d.FirstName = &firstName.String
	}
	if birthDate.Valid {
		d.BirthDate = &birthDate.Time
	}
	return &d, nil
}
