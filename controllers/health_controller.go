package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type StatsProvider interface {
	GetStats() map[string]int
}

type HealthController struct {
	db           Pinger
	storage      string
	ocrProviders map[string]bool
	ws           StatsProvider
}

func NewHealthController(db Pinger, storageDriver string, ocrProviders map[string]bool, ws StatsProvider) *HealthController {
	return &HealthController{db: db, storage: storageDriver, ocrProviders: ocrProviders, ws: ws}
}

func (h *HealthController) HealthCheck(c *gin.Context) {
	response := gin.H{
		"status":    "ok",
		"message":   "Service is healthy",
		"timestamp": time.Now().Unix(),
		"db":        "ok",
		"storage":   h.storage,
		"ocr":       h.ocrProviders,
	}
	if h.ws != nil {
		response["websocket"] = gin.H{"enabled": true, "stats": h.ws.GetStats()}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		response["db"] = "error: cannot connect to DB"
		response["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}
