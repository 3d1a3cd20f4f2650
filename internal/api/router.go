// Package api exposes the voice pipeline over HTTP.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/snditnz/verbumcare-demo-sub003/internal/events"
	"github.com/snditnz/verbumcare-demo-sub003/internal/stt"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(s *Server, hub *events.Hub, transcriber stt.Engine) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", s.health(transcriber))

	voice := r.Group("/api/voice")
	{
		voice.POST("/upload", s.uploadVoice)
		voice.POST("/process", s.processVoice)
		voice.GET("/status/:recordingId", s.voiceStatus)
		voice.POST("/abandon/:recordingId", s.abandonJob)
		voice.POST("/retry/:recordingId", s.retryRecording)
		voice.DELETE("/recordings/:id", s.deleteRecording)

		voice.GET("/review-queue/:ownerId", s.reviewQueue)
		voice.POST("/review/:id/reanalyze", s.reanalyzeReview)
		voice.POST("/review/:id/confirm", s.confirmReview)
		voice.DELETE("/review/:id", s.discardReview)

		voice.GET("/stream/:ownerId", streamEvents(hub))
	}

	return r
}

// corsMiddleware adds CORS headers for the bedside tablet app.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
