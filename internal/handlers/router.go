package handlers

import (
	"github.com/gin-gonic/gin"
)

// NewRouter wires every route of the HTTP surface
func NewRouter(content *ContentHandler, admin *AdminHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", content.HealthCheck)

	api := r.Group("/api")
	{
		api.GET("/status", content.Status)
		api.GET("/content", content.GetContent)
	}

	adminGroup := r.Group("/admin", admin.AdminAuth())
	{
		adminGroup.GET("/runs", admin.Running)
		adminGroup.POST("/reprocess/:collection", admin.Reprocess)
		adminGroup.POST("/maintain/:task", admin.Maintain)
	}
	return r
}
