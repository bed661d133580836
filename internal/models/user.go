package models

import (
	"time"
)

// User is one row per author identity seen by the pipeline
type User struct {
	DID         string  `json:"did" gorm:"column:did;primaryKey"`
	Handle      *string `json:"handle"`
	DisplayName *string `json:"display_name"`
	Description *string `json:"description" gorm:"type:text"`
	AvatarCID   *string `json:"avatar_cid" gorm:"column:avatar_cid"`
	BannerCID   *string `json:"banner_cid" gorm:"column:banner_cid"`

	// InCA is set by the platform profile record; HasAccess is granted outside
	// the pipeline. Neither regresses except on platform profile deletion.
	InCA      bool `json:"in_ca" gorm:"column:in_ca;default:false;index"`
	HasAccess bool `json:"has_access" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for the User model
func (User) TableName() string {
	return "users"
}
