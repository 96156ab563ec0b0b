package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/config"
	"github.com/energizer-project/rcond/internal/db"
	"github.com/energizer-project/rcond/internal/events"
	intnet "github.com/energizer-project/rcond/internal/network"
	"github.com/energizer-project/rcond/internal/session"
	"github.com/energizer-project/rcond/internal/util"
)

// Version is the rcond release reported by the API.
var Version = "1.0.0"

// Server is the management REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *intnet.ConnectionRegistry
	audit    *db.AuditLog
	secret   session.Secret

	tokens      *TokenManager
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	httpServer *http.Server
	router     *gin.Engine

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer creates a new API server. audit may be nil when the audit log
// is disabled; history endpoints then answer 503.
func NewServer(cfg *config.Config, eventBus *events.EventBus, registry *intnet.ConnectionRegistry, audit *db.AuditLog, secret session.Secret) *Server {
	app := cfg.GetApplicationData()

	if app.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:         cfg,
		eventBus:    eventBus,
		registry:    registry,
		audit:       audit,
		secret:      secret,
		tokens:      NewTokenManager(app.API.JWTSecret, time.Duration(app.API.TokenTTLMin)*time.Minute),
		rateLimiter: NewRateLimiter(app.Security.RateLimitRPS),
		shutdownCh:  make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.buildRouter()

	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RateLimiter returns the limiter so idle buckets can be reaped.
func (s *Server) RateLimiter() *RateLimiter {
	return s.rateLimiter
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	app := s.cfg.GetApplicationData()
	addr := net.JoinHostPort("", strconv.Itoa(app.API.Port))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if app.Security.TLSEnabled {
		certFile, keyFile, err := util.EnsureCert(app.Security.TLSCertFile, app.Security.TLSKeyFile, config.DefaultConfigDir)
		if err != nil {
			ln.Close()
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	log.Info().
		Str("addr", addr).
		Bool("tls", app.Security.TLSEnabled).
		Bool("auth", !app.Security.AuthDisabled).
		Msg("management API starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	app := s.cfg.GetApplicationData()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := app.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(s.rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.tokens, s.cfg)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
		public.POST("/login", s.handleLogin)
	}

	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/sessions/:id", s.handleGetSession)
		monitor.GET("/commands", s.handleGetCommands)
		monitor.GET("/stats", s.handleGetStats)
		monitor.GET("/events", s.handleEvents)
	}

	control := protected.Group("/control")
	{
		control.POST("/sessions/:id/kick", s.handleKickSession)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/rcon/:key", s.handleSetRCONField)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := s.cfg.GetApplicationData().Security.AllowedOrigins
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Stop gracefully stops the API server and closes live event streams.
func (s *Server) Stop() error {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
