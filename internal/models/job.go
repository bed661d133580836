package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job statuses
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
	JobSkipped = "skipped"
)

// Job is one queued unit of background work
type Job struct {
	ID        uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	Name      string         `json:"name" gorm:"not null;index"`
	Payload   datatypes.JSON `json:"payload"`
	Priority  int            `json:"priority" gorm:"default:0;index:idx_jobs_pending,priority:2"`
	Status    string         `json:"status" gorm:"not null;default:pending;index:idx_jobs_pending,priority:1"`
	Attempts  int            `json:"attempts" gorm:"default:0"`
	LastError string         `json:"last_error" gorm:"type:text"`
	RunAfter  time.Time      `json:"run_after" gorm:"index"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for the Job model
func (Job) TableName() string {
	return "jobs"
}
