package models

import (
	"time"

	"gorm.io/datatypes"
)

// Topic version acceptance statuses
const (
	VersionPending  = "pending"
	VersionAccepted = "accepted"
	VersionRejected = "rejected"
)

// Topic is one wiki topic; its versions are TopicVersion rows
type Topic struct {
	ID               string     `json:"id" gorm:"primaryKey"`
	CurrentVersionID *string    `json:"current_version_id"`
	Popularity       float64    `json:"popularity" gorm:"default:0"`
	LastEdit         *time.Time `json:"last_edit"`
}

// TableName sets the table name for the Topic model
func (Topic) TableName() string {
	return "topics"
}

// TopicVersion is the projection of wiki topic version records
type TopicVersion struct {
	URI        string                      `json:"uri" gorm:"primaryKey"`
	TopicID    string                      `json:"topic_id" gorm:"not null;index"`
	Title      string                      `json:"title"`
	Message    string                      `json:"message" gorm:"type:text"`
	Props      datatypes.JSON              `json:"props"`
	Categories datatypes.JSONSlice[string] `json:"categories"`
	Status     string                      `json:"status" gorm:"default:pending"`
}

// TableName sets the table name for the TopicVersion model
func (TopicVersion) TableName() string {
	return "topic_versions"
}

// TopicReference is a derived edge from a content to a topic it mentions
type TopicReference struct {
	ReferencingContentID string `json:"referencing_content_id" gorm:"primaryKey"`
	ReferencedTopicID    string `json:"referenced_topic_id" gorm:"primaryKey;index"`
	Type                 string `json:"type"`
	Touched              int64  `json:"touched"`
}

// TableName sets the table name for the TopicReference model
func (TopicReference) TableName() string {
	return "topic_references"
}

// TopicInteraction is a derived edge attributing a record to a topic,
// including replies that inherit the topic through their thread
type TopicInteraction struct {
	RecordID string `json:"record_id" gorm:"primaryKey"`
	TopicID  string `json:"topic_id" gorm:"primaryKey;index"`
	Touched  int64  `json:"touched"`
}

// TableName sets the table name for the TopicInteraction model
func (TopicInteraction) TableName() string {
	return "topic_interactions"
}
