package models

import (
	"gorm.io/datatypes"
)

// Post is the projection of app.bsky.feed.post records
type Post struct {
	URI        string                      `json:"uri" gorm:"primaryKey"`
	ReplyToID  *string                     `json:"reply_to_id" gorm:"index"`
	ReplyToCID *string                     `json:"reply_to_cid" gorm:"column:reply_to_cid"`
	RootID     *string                     `json:"root_id" gorm:"index"`
	RootCID    *string                     `json:"root_cid" gorm:"column:root_cid"`
	QuoteToID  *string                     `json:"quote_to_id" gorm:"index"`
	QuoteToCID *string                     `json:"quote_to_cid" gorm:"column:quote_to_cid"`
	Langs      datatypes.JSONSlice[string] `json:"langs"`
}

// TableName sets the table name for the Post model
func (Post) TableName() string {
	return "posts"
}
