package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/db"
	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/util"
)

const (
	maxCommandLimit  = 1000
	wsPingInterval   = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsEventQueueSize = 64
)

// handleGetSessions returns all live sessions.
func (s *Server) handleGetSessions(c *gin.Context) {
	sessions := s.registry.GetAll()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleGetSession returns one session, live or from the audit log, with
// its command history when available.
func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	resp := gin.H{"id": id}
	found := false

	if conn, ok := s.registry.Get(id); ok {
		resp["live"] = conn.Info()
		found = true
	}

	if s.audit != nil {
		rec, err := s.audit.GetSession(id)
		switch {
		case err == nil:
			resp["record"] = rec
			found = true
		case !errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if found {
			cmds, err := s.audit.SessionCommands(id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			resp["commands"] = cmds
		}
	}

	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetCommands returns the most recent commands.
func (s *Server) handleGetCommands(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxCommandLimit)
	}

	cmds, err := s.audit.RecentCommands(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"commands": cmds,
		"total":    len(cmds),
	})
}

// handleGetStats returns host, process and session statistics.
func (s *Server) handleGetStats(c *gin.Context) {
	resp := gin.H{
		"system":          util.GetSystemInfo(),
		"process":         util.GetProcessStats(),
		"active_sessions": s.registry.Count(),
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if s.audit != nil {
		if stats, err := s.audit.Stats(); err == nil {
			resp["audit"] = stats
		} else {
			log.Warn().Err(err).Msg("failed to read audit stats")
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleEvents streams session events over a websocket until the client
// disconnects or the server shuts down.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	name := "ws:" + uuid.NewString()
	queue := make(chan events.Event, wsEventQueueSize)

	s.eventBus.SubscribeAll(events.SessionEvents, name, func(_ context.Context, e events.Event) error {
		select {
		case queue <- e:
		default:
			log.Warn().Str("subscriber", name).Str("event", string(e.Type)).Msg("websocket client too slow, dropping event")
		}
		return nil
	})
	defer s.eventBus.UnsubscribeAll(events.SessionEvents, name)

	log.Info().Str("subscriber", name).Str("client_ip", c.ClientIP()).Msg("event stream opened")
	defer log.Info().Str("subscriber", name).Msg("event stream closed")

	// Reader: only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-s.shutdownCh:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case e := <-queue:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
