package handlers

import (
	"context"
	"errors"
	"net/http"

	"ca-indexer/internal/models"
	"ca-indexer/internal/record"
	"ca-indexer/internal/worker"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StatusProvider reports the state of the background workers
type StatusProvider interface {
	GetStatus(ctx context.Context) worker.Status
}

// ContentHandler serves the read surface over mirrored records
type ContentHandler struct {
	db     *gorm.DB
	status StatusProvider
}

// NewContentHandler creates a new content handler
func NewContentHandler(db *gorm.DB, status StatusProvider) *ContentHandler {
	return &ContentHandler{db: db, status: status}
}

// ContentResponse is a record with its content and projection
type ContentResponse struct {
	Record       models.Record        `json:"record"`
	Content      *models.Content      `json:"content,omitempty"`
	Post         *models.Post         `json:"post,omitempty"`
	Article      *models.Article      `json:"article,omitempty"`
	TopicVersion *models.TopicVersion `json:"topic_version,omitempty"`
	Topics       []string             `json:"topics"`
}

// HealthCheck handles GET /health
func (h *ContentHandler) HealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /api/status
func (h *ContentHandler) Status(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusOK, worker.Status{})
		return
	}
	c.JSON(http.StatusOK, h.status.GetStatus(c.Request.Context()))
}

// GetContent handles GET /api/content?uri=
func (h *ContentHandler) GetContent(c *gin.Context) {
	uri := c.Query("uri")
	if _, err := record.ParseURI(uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uri", "details": err.Error()})
		return
	}

	var resp ContentResponse
	err := h.db.WithContext(c.Request.Context()).First(&resp.Record, "uri = ?", uri).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var content models.Content
	if found(db.Limit(1).Find(&content, "uri = ?", uri)) {
		resp.Content = &content
	}
	switch resp.Record.Collection {
	case record.CollectionPost:
		var post models.Post
		if found(db.Limit(1).Find(&post, "uri = ?", uri)) {
			resp.Post = &post
		}
	case record.CollectionArticle:
		var article models.Article
		if found(db.Limit(1).Find(&article, "uri = ?", uri)) {
			resp.Article = &article
		}
	case record.CollectionTopicVersion:
		var version models.TopicVersion
		if found(db.Limit(1).Find(&version, "uri = ?", uri)) {
			resp.TopicVersion = &version
		}
	}

	resp.Topics = []string{}
	err = db.Model(&models.TopicInteraction{}).
		Where("record_id = ?", uri).
		Order("topic_id").
		Pluck("topic_id", &resp.Topics).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load topics"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func found(tx *gorm.DB) bool {
	return tx.Error == nil && tx.RowsAffected > 0
}
