// Package api exposes the session engine over HTTP for presentation
// consumers: session control, snapshot ingestion and a live websocket
// stream of session notifications.
package api

import (
	"net/http"
	"strings"

	"github.com/bhandras/ussdpilot/internal/api/handlers"
	"github.com/bhandras/ussdpilot/internal/api/middleware"
	"github.com/bhandras/ussdpilot/internal/crypto"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps are the components the API serves.
type Deps struct {
	Sessions handlers.Sessions
	// Journal is optional; without it the events and history routes answer
	// 503.
	Journal handlers.Journal
	Updates handlers.Updates
	// JWT enables bearer authentication when non-nil.
	JWT            *crypto.JWTManager
	AllowedOrigins []string
	Version        string
}

// Server is the HTTP front of the engine.
type Server struct {
	router  *gin.Engine
	updates *handlers.UpdatesHandler
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))
	router.Use(middleware.LoggingMiddleware())

	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Journal)
	updatesHandler := handlers.NewUpdatesHandler(deps.Updates, deps.JWT, deps.AllowedOrigins)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  deps.Version,
			"sessions": len(deps.Sessions.List()),
			"clients":  updatesHandler.Clients(),
			"dropped":  updatesHandler.Dropped(),
		})
	})

	// The stream checks its own token since browsers cannot send headers on
	// a websocket handshake.
	router.GET("/v1/updates", updatesHandler.Stream)

	v1 := router.Group("/v1")
	if deps.JWT != nil {
		v1.Use(middleware.AuthMiddleware(deps.JWT))
	}
	{
		v1.POST("/sessions", sessionHandler.CreateSession)
		v1.GET("/sessions", sessionHandler.ListSessions)
		v1.GET("/sessions/:id", sessionHandler.GetSession)
		v1.DELETE("/sessions/:id", sessionHandler.DeleteSession)
		v1.POST("/sessions/:id/reply", sessionHandler.Reply)
		v1.POST("/sessions/:id/accept", sessionHandler.Accept)
		v1.POST("/sessions/:id/disconnect", sessionHandler.Disconnect)
		v1.GET("/sessions/:id/events", sessionHandler.GetSessionEvents)
		v1.GET("/history", sessionHandler.ListHistory)
		v1.POST("/snapshots", sessionHandler.PostSnapshot)
	}

	return &Server{router: router, updates: updatesHandler}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close disconnects stream clients. Hijacked websocket connections are not
// closed by http.Server.Shutdown.
func (s *Server) Close() {
	s.updates.Close()
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
	}
	var explicit []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			cfg.AllowAllOrigins = true
		default:
			explicit = append(explicit, o)
		}
	}
	if cfg.AllowAllOrigins || len(explicit) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = explicit
	cfg.AllowCredentials = true
	return cfg
}
