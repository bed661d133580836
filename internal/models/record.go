package models

import (
	"time"

	"gorm.io/datatypes"
)

// Record is the raw row kept for every mirrored record
type Record struct {
	URI        string         `json:"uri" gorm:"primaryKey"`
	CID        string         `json:"cid" gorm:"column:cid"`
	AuthorID   string         `json:"author_id" gorm:"not null;index"`
	Collection string         `json:"collection" gorm:"not null;index:idx_records_collection_created,priority:1"`
	RKey       string         `json:"rkey" gorm:"column:rkey"`
	CreatedAt  time.Time      `json:"created_at" gorm:"index:idx_records_collection_created,priority:2"`
	IndexedAt  time.Time      `json:"indexed_at"`
	Record     datatypes.JSON `json:"record"`
}

// TableName sets the table name for the Record model
func (Record) TableName() string {
	return "records"
}

// Content holds the text and engagement counters of posts, articles and topic versions
type Content struct {
	URI         string                      `json:"uri" gorm:"primaryKey"`
	CID         string                      `json:"cid" gorm:"column:cid"`
	Text        *string                     `json:"text" gorm:"type:text"`
	PlainText   *string                     `json:"plain_text" gorm:"type:text"`
	TextBlobCID *string                     `json:"text_blob_cid" gorm:"column:text_blob_cid"`
	Format      string                      `json:"format"`
	SelfLabels  datatypes.JSONSlice[string] `json:"self_labels"`
	Embeds      datatypes.JSON              `json:"embeds"`
	Facets      datatypes.JSON              `json:"facets"`

	UniqueLikesCount   int     `json:"unique_likes_count" gorm:"default:0"`
	UniqueRepostsCount int     `json:"unique_reposts_count" gorm:"default:0"`
	UniqueAcceptsCount int     `json:"unique_accepts_count" gorm:"default:0"`
	UniqueRejectsCount int     `json:"unique_rejects_count" gorm:"default:0"`
	RepliesCount       int     `json:"replies_count" gorm:"default:0"`
	RelativePopularity float64 `json:"relative_popularity" gorm:"default:0"`

	Edited    bool      `json:"edited" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName sets the table name for the Content model
func (Content) TableName() string {
	return "contents"
}
