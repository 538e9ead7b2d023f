package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	chatH *ChatHandler,
	userH *UserHandler,
	wsH *WSHandler,
) *gin.Engine {
	r := gin.New()
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// El upgrade del WebSocket queda fuera del grupo JSON.
	r.GET("/sessions/:id/ws", wsH.HandleWebSocket)

	api := r.Group("", jsonContentTypeMiddleware())

	sessions := api.Group("/sessions")
	sessions.POST("", chatH.CreateSession)
	sessions.GET("/:id", chatH.GetSession)
	sessions.GET("/:id/messages", chatH.ListMessages)
	sessions.POST("/:id/messages", chatH.PostMessage)
	sessions.POST("/:id/close", chatH.CloseSession)

	users := api.Group("/users")
	users.GET("/:id/sessions", chatH.ListUserSessions)
	users.PUT("/:id/admin", userH.SetAdmin)

	r.GET("/sessions/:id/transcript", chatH.Transcript)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
