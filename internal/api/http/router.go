package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(allowedOrigins []string, meetController *MeetController) *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = allowedOrigins
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	if meetController != nil {
		router.GET("/ws", meetController.Serve)

		api := router.Group("/api")
		rooms := api.Group("/rooms")
		rooms.GET("/:roomID", meetController.GetRoom)
		rooms.GET("/:roomID/participants", meetController.ListParticipants)
	}

	return router
}
