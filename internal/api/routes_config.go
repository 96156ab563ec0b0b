package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/config"
	"github.com/energizer-project/rcond/internal/events"
)

const redacted = "********"

// handleGetConfig returns the current configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	rcon := s.cfg.GetRCON()
	app := s.cfg.GetApplicationData()

	if rcon.Password != "" {
		rcon.Password = redacted
	}
	if rcon.PasswordHash != "" {
		rcon.PasswordHash = redacted
	}
	app.API.JWTSecret = redacted

	c.JSON(http.StatusOK, gin.H{
		"rcon":             rcon,
		"application_data": app,
	})
}

// writableRCONKeys are the rcon settings the API may change. Secrets are
// excluded; they are set through the config file or the CLI.
var writableRCONKeys = map[string]bool{
	"max_packet_size":   true,
	"idle_timeout_sec":  true,
	"write_timeout_sec": true,
	"max_connections":   true,
}

type setValueRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// handleSetRCONField updates one rcon setting. Changes apply on restart.
func (s *Server) handleSetRCONField(c *gin.Context) {
	key := c.Param("key")
	if !writableRCONKeys[key] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("rcon.%s cannot be changed through the API", key)})
		return
	}

	var req setValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var value interface{}
	if err := json.Unmarshal(req.Value, &value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetRCON()
	if err := s.cfg.UpdateRCONField(key, value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetRCON(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Errors[0].Error()})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Key:   "rcon." + key,
			Value: string(req.Value),
		},
	})

	subject, _ := c.Get(subjectKey)
	log.Info().Interface("user", subject).Str("key", key).Msg("API: rcon setting updated")

	c.JSON(http.StatusOK, gin.H{
		"status":           "updated",
		"restart_required": true,
	})
}
