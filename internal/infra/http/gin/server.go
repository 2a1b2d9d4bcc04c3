package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"chatline/internal/infra/config"
	"chatline/internal/infra/obs"
)

type Handlers struct {
	Auth           AuthHTTP
	Conversations  ConversationHTTP
	Messages       MessageHTTP
	Presence       *PresenceHandler
	Attachments    *AttachmentHandler
	Realtime       http.Handler
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Realtime != nil {
		router.GET("/ws", gin.WrapH(h.Realtime))
	}

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/auth/me", h.Auth.Me)
	}
	if h.Presence != nil {
		api.GET("/users/online", h.Presence.Online)
	}
	if h.Conversations != nil {
		conv := api.Group("/conversations")
		conv.GET("", h.Conversations.List)
		conv.POST("/direct", h.Conversations.CreateDirect)
		conv.POST("/group", h.Conversations.CreateGroup)
		conv.GET("/:id", h.Conversations.Get)
		conv.DELETE("/:id", h.Conversations.Delete)
		conv.PATCH("/:id/settings", h.Conversations.Update)
		conv.POST("/:id/participants", h.Conversations.AddParticipants)
		conv.DELETE("/:id/participants/:userId", h.Conversations.RemoveParticipant)
		conv.POST("/:id/leave", h.Conversations.Leave)
		conv.GET("/:id/messages", h.Conversations.ListMessages)
		conv.POST("/:id/messages", h.Conversations.SendMessage)
		conv.POST("/:id/read", h.Conversations.MarkRead)
	}
	if h.Messages != nil {
		msg := api.Group("/messages")
		msg.PATCH("/:id", h.Messages.Edit)
		msg.DELETE("/:id", h.Messages.Delete)
		msg.POST("/:id/read", h.Messages.MarkRead)
		msg.POST("/:id/reactions", h.Messages.React)
	}
	if h.Attachments != nil {
		api.POST("/attachments", h.Attachments.Upload)
	}
	return router
}

// corsConfig allows credentials, which rules out a wildcard origin list.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowOriginFunc = func(string) bool { return true }
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
