package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleKickSession disconnects a live RCON session.
func (s *Server) handleKickSession(c *gin.Context) {
	id := c.Param("id")

	if !s.registry.Kick(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	subject, _ := c.Get(subjectKey)
	log.Info().Interface("user", subject).Str("session", id).Msg("API: session kicked")

	c.JSON(http.StatusOK, gin.H{
		"status":  "kicked",
		"session": id,
	})
}
