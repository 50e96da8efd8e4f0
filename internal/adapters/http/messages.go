package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/domain"
)

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (api *API) handleSidebarUsers(c *gin.Context) {
	users, err := api.Users.ListUsersExcept(c.Request.Context(), currentUID(c))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (api *API) handleConversation(c *gin.Context) {
	other := domain.UserID(c.Param("id"))
	msgs, err := api.Messages.ListConversation(c.Request.Context(), currentUID(c), other)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// handleSendMessage persists the message first, then hands the stored record
// to the relay. The live push is best effort; history is the durable path.
func (api *API) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}

	msg, err := domain.NewMessage(currentUID(c), domain.UserID(c.Param("id")), req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := api.Messages.SaveMessage(c.Request.Context(), msg); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	api.Gateway.Relay.ForwardMessage(*msg)
	c.JSON(http.StatusCreated, msg)
}
