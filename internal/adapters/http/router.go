package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/adapters/signal"
	"github.com/pingitup/pingitup/internal/auth"
	"github.com/pingitup/pingitup/internal/config"
	"github.com/pingitup/pingitup/internal/domain"
	"github.com/pingitup/pingitup/internal/store"
)

const sessionKeyUID = "uid"

type API struct {
	Auth     *auth.Service
	Users    store.UserStore
	Messages store.MessageStore
	Gateway  *signal.Controller
}

// RequireAuth guards the message routes and exposes the verified identity to
// handlers via the gin context.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		v := sessions.Default(c).Get(sessionKeyUID)
		s, ok := v.(string)
		if !ok || s == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set("uid", s)
		c.Next()
	}
}

func currentUID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("uid"))
}

func SetupRouter(ctx context.Context, cfg *config.Config, api *API) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessionStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PingItUp", sessionStore))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")

	a := r.Group("/api/auth")
	a.POST("/signup", api.handleSignup)
	a.POST("/login", api.handleLogin)
	a.POST("/logout", api.handleLogout)
	a.GET("/check", RequireAuth(), api.handleCheck)

	m := r.Group("/api/messages", RequireAuth())
	m.GET("/users", api.handleSidebarUsers)
	m.GET("/:id", api.handleConversation)
	m.POST("/send/:id", api.handleSendMessage)

	r.GET("/api/ws", func(c *gin.Context) {
		api.Gateway.HandleWS(ctx, c)
	})

	return r
}
