package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/events"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rcond",
	})
}

// handleGetVersion returns the rcond version.
func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": Version,
		"name":    "rcond",
	})
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// handleLogin exchanges the RCON password for an API token.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	if !s.secret.Match(req.Password) {
		log.Warn().Str("client_ip", c.ClientIP()).Msg("API login failed")
		if s.eventBus != nil {
			s.eventBus.Emit(c.Request.Context(), events.Event{
				Type:   events.EventAuthFailed,
				Source: "api",
				Payload: events.AuthPayload{
					SessionID:  "api",
					RemoteAddr: c.ClientIP(),
				},
			})
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token, expires, err := s.tokens.Issue("admin")
	if err != nil {
		log.Error().Err(err).Msg("failed to issue API token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	log.Info().Str("client_ip", c.ClientIP()).Msg("API login")
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires,
	})
}
