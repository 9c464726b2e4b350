package models

import (
	"time"
)

// Driver 驾驶员（对应 drivers 表，创建后不可修改）
type Driver struct {
	DriverID  int64      `json:"driver_id" db:"driver_id"`
	LastName  string     `json:"last_name" db:"last_name"`
	FirstName *string    `json:"first_name,omitempty" db:"first_name"`
	BirthDate *time.Time `json:"birth_date,omitempty" db:"birth_date"`
}

// Session 驾驶会话（对应 sessions 表）
// EndedAt 为 nil 表示会话仍在进行中
type Session struct {
	SessionID  int64      `json:"session_id" db:"session_id"`
	DriverID   int64      `json:"driver_id" db:"driver_id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Annotation string     `json:"annotation" db:"annotation"`
}
