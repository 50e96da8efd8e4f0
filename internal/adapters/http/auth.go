package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/auth"
	"github.com/pingitup/pingitup/internal/store"
)

type signupRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (api *API) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}

	u, err := api.Auth.Signup(c.Request.Context(), req.Email, req.FullName, req.Password)
	if errors.Is(err, store.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	api.startSession(c, string(u.ID))
	c.JSON(http.StatusCreated, u)
}

func (api *API) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}

	u, err := api.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	api.startSession(c, string(u.ID))
	c.JSON(http.StatusOK, u)
}

func (api *API) handleLogout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("logout save session")
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (api *API) handleCheck(c *gin.Context) {
	u, err := api.Users.UserByID(c.Request.Context(), currentUID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (api *API) startSession(c *gin.Context, uid string) {
	sess := sessions.Default(c)
	sess.Set(sessionKeyUID, uid)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
	}
}
