package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ca-indexer/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Queue enqueues jobs into the jobs table
type Queue struct {
	db *gorm.DB
}

// NewQueue creates a new job queue
func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue stores a pending job with the given JSON-encodable payload
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, priority int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}
	job := models.Job{
		ID:       uuid.New(),
		Name:     name,
		Payload:  data,
		Priority: priority,
		Status:   models.JobPending,
		RunAfter: time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

// Pending returns the number of pending jobs, optionally filtered by name
func (q *Queue) Pending(ctx context.Context, name string) (int64, error) {
	var count int64
	tx := q.db.WithContext(ctx).Model(&models.Job{}).Where("status = ?", models.JobPending)
	if name != "" {
		tx = tx.Where("name = ?", name)
	}
	err := tx.Count(&count).Error
	return count, err
}
