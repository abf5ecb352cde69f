package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/transport"
)

// Server is the HTTP carrier.
type Server struct {
	addr     string
	handlers *Handlers
	router   *gin.Engine
}

func NewServer(addr string, hub *transport.Hub, logs *LogBroadcaster) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:     addr,
		handlers: NewHandlers(hub, logs, 2*time.Second),
		router:   gin.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger())

	s.router.GET("/health", s.handlers.HandleHealth)
	s.router.POST("/command", s.handlers.HandleCommand)
	s.router.GET("/status", s.handlers.HandleStatus)
	s.router.GET("/config", s.handlers.HandleConfig)
	s.router.GET("/status/stream", s.handlers.HandleStatusStream)
	s.router.GET("/ws", s.handlers.HandleWebSocket)
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Streams end with ctx, otherwise Shutdown waits on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogger logs every request at live level through zap.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !debug.IsEnabled(debug.LevelLive) {
			return
		}
		debug.Logger().Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()),
		)
	}
}
