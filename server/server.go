package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santiagomed/forge/config"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/deploy"
	"github.com/santiagomed/forge/logger"
	"github.com/santiagomed/forge/metrics"
)

type Options struct {
	Config    *config.Config
	Invoker   core.Invoker
	Registry  *core.Registry
	Pipeline  *core.Pipeline
	Deployers *deploy.Registry
	// Tokens supplies a deploy token when a request carries none.
	Tokens  func(target string) string
	Metrics *metrics.Collector
	Logger  logger.Logger
}

type entry struct {
	session *core.Session
	hub     *hub
}

// Server exposes sessions over HTTP. Sessions live in memory; the least recently used
// one is dropped once the configured maximum is reached.
type Server struct {
	opts     Options
	engine   *gin.Engine
	sessions *lru.Cache[string, *entry]
	logger   logger.Logger
	timeout  time.Duration
}

func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Invoker == nil {
		return nil, errors.New("server needs a config and a provider adapter")
	}
	if opts.Registry == nil {
		opts.Registry = core.DefaultRegistry()
	}
	if opts.Deployers == nil {
		opts.Deployers = deploy.NewRegistry(opts.Metrics, opts.Logger)
	}
	if opts.Tokens == nil {
		opts.Tokens = func(string) string { return "" }
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}
	size := opts.Config.Server.MaxSessions
	if size <= 0 {
		size = 256
	}
	timeout := opts.Config.Server.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	s := &Server{opts: opts, logger: opts.Logger.WithField("component", "server"), timeout: timeout}
	cache, err := lru.NewWithEvict[string, *entry](size, func(id string, e *entry) {
		e.hub.close()
		s.opts.Metrics.SessionClosed()
		s.logger.Info("Session closed: " + id)
	})
	if err != nil {
		return nil, err
	}
	s.sessions = cache
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on " + addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/modes", s.listModes)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	r.POST("/sessions", s.createSession)
	sess := r.Group("/sessions/:id", s.loadSession)
	{
		sess.GET("", s.getSession)
		sess.DELETE("", s.deleteSession)
		sess.GET("/versions", s.listVersions)
		sess.GET("/events", s.streamEvents)
		sess.POST("/plan", s.plan)
		sess.POST("/confirm", s.confirm)
		sess.POST("/screenshot", s.screenshot)
		sess.POST("/skip-review", s.skipReview)
		sess.POST("/test-report", s.testReport)
		sess.POST("/refine", s.refine)
		sess.POST("/ask", s.ask)
		sess.POST("/debug", s.debug)
		sess.POST("/console", s.console)
		sess.POST("/revert", s.revert)
		sess.POST("/deploy", s.deploy)
		sess.GET("/export", s.export)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(fmt.Sprintf("%s %s %d %v", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start)))
	}
}

func (s *Server) loadSession(c *gin.Context) {
	e, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Set("entry", e)
	c.Next()
}

func current(c *gin.Context) *entry {
	return c.MustGet("entry").(*entry)
}

// callContext bounds one operation. It is detached from the request so a client that
// disconnects does not leave the session half way through a stage.
func (s *Server) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}
