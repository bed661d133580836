// Package models contains all data models mirrored by the indexer
package models

import (
	"gorm.io/gorm"
)

// AllModels returns a slice of all model types for database migrations
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Record{},
		&Content{},
		&Post{},
		&Article{},
		&Topic{},
		&TopicVersion{},
		&Dataset{},
		&Follow{},
		&Reaction{},
		&TopicReference{},
		&TopicInteraction{},
		&Notification{},
		&Job{},
	}
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
