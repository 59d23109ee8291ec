package http

import (
	"log/slog"

	"ozzus/client-aeza/internal/api/http/middleware"

	"github.com/gin-gonic/gin"
)

func NewRouter(healthController *HealthController, checkController *CheckController, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(log), middleware.CORS())

	router.GET("/health", healthController.Health)
	router.GET("/ready", healthController.Ready)
	router.GET("/status", healthController.Status)

	api := router.Group("/api")
	{
		api.GET("/history", checkController.ListHistory)
		api.POST("/history/sync", checkController.SyncHistory)
		api.DELETE("/history", checkController.ClearHistory)

		api.POST("/checks", checkController.CreateCheck)
		api.GET("/checks/:id", checkController.GetCheck)
		api.DELETE("/checks/:id", checkController.DeleteCheck)
		api.POST("/checks/:id/poll", checkController.StartPoll)
		api.DELETE("/checks/:id/poll", checkController.CancelPoll)
		api.POST("/checks/:id/repeat", checkController.Repeat)

		api.GET("/agents", checkController.ListAgents)
		api.GET("/stats", checkController.Stats)
	}

	return router
}
