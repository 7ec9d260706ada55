package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/vnkhanh/submission-ingest-backend/controllers"
	"github.com/vnkhanh/submission-ingest-backend/middleware"
	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/ws"
)

type Handlers struct {
	Uploads   *controllers.UploadController
	Health    *controllers.HealthController
	WebSocket *ws.Handler
	JWTSecret string
}

func SetupRouter(r *gin.Engine, h Handlers) *gin.Engine {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/health", h.Health.HealthCheck)

	api := r.Group("/api")

	upload := api.Group("/upload")
	{
		upload.Use(middleware.AuthMiddleware(h.JWTSecret), middleware.RequireRoles(models.RoleTeacher, models.RoleStudent))

		upload.POST("/image", h.Uploads.UploadImage)
		upload.POST("/pdf", h.Uploads.UploadPDF)
		upload.GET("", h.Uploads.ListUploads)
		upload.GET("/:id", h.Uploads.GetUpload)
		upload.GET("/:id/logs", h.Uploads.GetUploadLogs)
		upload.DELETE("/:id", h.Uploads.DeleteUpload)
	}

	r.GET("/ws/uploads/:id", h.WebSocket.HandleUploadWebSocket)

	return r
}
