package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/hive/internal/orchestrator"
)

const shutdownGrace = 5 * time.Second

// Server exposes the running orchestrator over HTTP: goal submission,
// status, task and agent listings, a websocket event stream, and the
// Prometheus scrape endpoint.
type Server struct {
	orch   *orchestrator.Orchestrator
	engine *gin.Engine
	http   *http.Server
	hub    *eventHub

	promGatherer prometheus.Gatherer
	debugLog     func(format string, args ...interface{})
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPrometheus serves the given gatherer on /metrics.
func WithPrometheus(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.promGatherer = g }
}

// WithDebugLog sets the debug sink.
func WithDebugLog(fn func(format string, args ...interface{})) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.debugLog = fn
		}
	}
}

// New builds the router. Call Run to serve.
func New(orch *orchestrator.Orchestrator, addr string, opts ...ServerOption) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		orch:     orch,
		engine:   engine,
		http:     &http.Server{Addr: addr, Handler: engine},
		debugLog: func(string, ...interface{}) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newEventHub(s.debugLog)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	if s.promGatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.promGatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api/v1")
	api.POST("/goals", s.handleSubmitGoal)
	api.GET("/status", s.handleStatus)
	api.GET("/tasks", s.handleTasks)
	api.GET("/agents", s.handleAgents)
	api.GET("/events", s.handleEvents)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then drains the event
// hub and shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.pump(ctx, s.orch.Events())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.debugLog("[server] listening on %s", s.http.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.hub.closeAll()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_id": s.orch.SessionID()})
}

type goalRequest struct {
	Goal    string                 `json:"goal" binding:"required"`
	Context map[string]interface{} `json:"context"`
}

func (s *Server) handleSubmitGoal(c *gin.Context) {
	var req goalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, err := s.orch.SubmitGoal(c.Request.Context(), req.Goal, req.Context)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	c.JSON(http.StatusAccepted, gin.H{"task_ids": ids, "count": len(ids)})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) handleTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.orch.TaskSummaries()})
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.orch.Registry().List()})
}
