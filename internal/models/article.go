package models

import "gorm.io/datatypes"

// Article is the projection of long-form article records
type Article struct {
	URI   string `json:"uri" gorm:"primaryKey"`
	Title string `json:"title" gorm:"not null"`
}

// TableName sets the table name for the Article model
func (Article) TableName() string {
	return "articles"
}

// Dataset is the projection of dataset records
type Dataset struct {
	URI         string                      `json:"uri" gorm:"primaryKey"`
	Name        string                      `json:"name" gorm:"not null"`
	Description string                      `json:"description" gorm:"type:text"`
	Columns     datatypes.JSONSlice[string] `json:"columns"`
	DataBlobCID *string                     `json:"data_blob_cid" gorm:"column:data_blob_cid"`
	DataFormat  string                      `json:"data_format"`
}

// TableName sets the table name for the Dataset model
func (Dataset) TableName() string {
	return "datasets"
}

// Follow is the projection of app.bsky.graph.follow records
type Follow struct {
	URI        string `json:"uri" gorm:"primaryKey"`
	SubjectDID string `json:"subject_did" gorm:"column:subject_did;not null;index"`
}

// TableName sets the table name for the Follow model
func (Follow) TableName() string {
	return "follows"
}
