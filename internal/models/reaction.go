package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Reaction types
const (
	ReactionLike   = "like"
	ReactionRepost = "repost"
	ReactionAccept = "accept"
	ReactionReject = "reject"
)

// Reaction is a like, repost or wiki vote pointing at a subject record
type Reaction struct {
	URI        string                      `json:"uri" gorm:"primaryKey"`
	Type       string                      `json:"type" gorm:"not null;index:idx_reactions_author_subject,priority:3"`
	AuthorID   string                      `json:"author_id" gorm:"not null;index:idx_reactions_author_subject,priority:1"`
	SubjectID  string                      `json:"subject_id" gorm:"not null;index;index:idx_reactions_author_subject,priority:2"`
	SubjectCID string                      `json:"subject_cid" gorm:"column:subject_cid"`
	Reason     *string                     `json:"reason" gorm:"type:text"`
	Labels     datatypes.JSONSlice[string] `json:"labels"`
}

// TableName sets the table name for the Reaction model
func (Reaction) TableName() string {
	return "reactions"
}

// Notification types
const (
	NotificationReply      = "reply"
	NotificationQuote      = "quote"
	NotificationMention    = "mention"
	NotificationVoteAccept = "vote-accept"
	NotificationVoteReject = "vote-reject"
)

// Notification tells a user that someone interacted with one of their records
type Notification struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID     string    `json:"user_id" gorm:"not null;index;uniqueIndex:idx_notifications_unique,priority:1"`
	Type       string    `json:"type" gorm:"not null;uniqueIndex:idx_notifications_unique,priority:2"`
	CauserURI  string    `json:"causer_uri" gorm:"not null;uniqueIndex:idx_notifications_unique,priority:3"`
	SubjectURI *string   `json:"subject_uri"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName sets the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}
