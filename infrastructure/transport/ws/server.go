// Package ws serves the connection protocol over WebSocket, plus the HTTP auxiliaries.
package ws

import (
	"chat-connect/errors"
	"chat-connect/observability"
	"chat-connect/services"
	"chat-connect/sink"
	"context"
	goerrors "errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	CloseAuthFailure = 4001
	CloseTimeout     = 4008

	defaultReadLimit = 1 << 20
)

type Options struct {
	BufferSize     int
	IdleTimeout    time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	DebugEndpoints bool
	ReadLimit      int64
}

type Server struct {
	log       *slog.Logger
	service   services.IConnectService
	collector *observability.Collector
	opts      Options
	upgrader  websocket.Upgrader
}

// NewServer builds the HTTP side. collector may be nil.
func NewServer(log *slog.Logger, service services.IConnectService, collector *observability.Collector, opts Options) *Server {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.IdleTimeout {
		opts.PingInterval = opts.IdleTimeout * 9 / 10
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Server{log: log, service: service, collector: collector, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(s.corsConfig()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.opts.DebugEndpoints && s.collector != nil {
		r.GET("/debug/stats", s.handleStats)
	}
	r.GET("/ws", s.handleConnect)
	return r
}

func (s *Server) handleStats(c *gin.Context) {
	snapshot, err := s.collector.Collect()
	if err != nil {
		s.log.Error("Stats collection failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleConnect(c *gin.Context) {
	credential := c.GetHeader("Authorization")
	if credential == "" {
		credential = c.Query("token")
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		s.log.Debug("Websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := sink.NewConnectionSink(s.opts.BufferSize)
	session, err := s.service.Open(ctx, credential, out)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if goerrors.Is(err, errors.ErrUnauthenticated) {
			code = CloseAuthFailure
		}
		deadline := time.Now().Add(s.opts.WriteTimeout)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, errors.SafeMessage(err)), deadline)
		_ = ws.Close()
		return
	}

	conn := newConnection(s.log, ws, session, out, s.opts)
	conn.serve(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) corsConfig() cors.Config {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Origin", "Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(s.opts.AllowedOrigins) == 0 || slices.Contains(s.opts.AllowedOrigins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = s.opts.AllowedOrigins
	}
	return config
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
