// Package api serves the taskflow manager as a REST API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mschirtzinger/taskflow/internal/manager"
)

// Managers yields the manager each request runs against and lets the base
// directory be switched. *manager.Switcher implements it.
type Managers interface {
	Current() *manager.Manager
	SetBaseDir(dir string) (*manager.Manager, error)
}

// Publisher is told about every successful mutation. The RPC server
// implements it to notify its clients.
type Publisher interface {
	TaskUpdated(project, taskID string)
	ProjectUpdated(project string)
}

type nopPublisher struct{}

func (nopPublisher) TaskUpdated(string, string) {}
func (nopPublisher) ProjectUpdated(string)      {}

// Server is the HTTP API server.
type Server struct {
	managers  Managers
	publisher Publisher
	router    *gin.Engine
	logger    *log.Logger
}

// NewServer builds the router. publisher may be nil.
func NewServer(managers Managers, publisher Publisher, logger *log.Logger) *Server {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}

	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery(), allowCORS())

	s := &Server{
		managers:  managers,
		publisher: publisher,
		router:    router,
		logger:    logger,
	}

	router.GET("/health", s.handleHealth)

	cfg := router.Group("/config")
	{
		cfg.GET("/base-dir", s.handleGetBaseDir)
		cfg.POST("/base-dir", s.handleSetBaseDir)
	}

	projects := router.Group("/projects")
	{
		projects.GET("", s.handleListProjects)
		projects.POST("", s.handleCreateProject)
		projects.GET("/:project", s.handleGetProject)
		projects.PATCH("/:project", s.handleSetProjectStatus)
		projects.GET("/:project/status", s.handleProjectStatus)

		projects.GET("/:project/tasks", s.handleListTasks)
		projects.POST("/:project/tasks", s.handleCreateTask)
		projects.GET("/:project/tasks/:id", s.handleGetTask)
		projects.PATCH("/:project/tasks/:id", s.handleUpdateTask)
		projects.POST("/:project/tasks/:id/complete", s.handleCompleteTask)

		iterations := projects.Group("/:project/tasks/:id/iterations")
		iterations.GET("", s.handleListIterations)
		iterations.GET("/:n", s.handleGetIteration)
		iterations.POST("/start", s.handleStartIteration)
		iterations.POST("/note", s.handleAddNote)
		iterations.POST("/summary", s.handleSetSummary)
		iterations.POST("/feedback", s.handleAddFeedback)
		iterations.POST("/next-steps", s.handleSetNextSteps)
		iterations.POST("/complete", s.handleCompleteIteration)
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP API listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	}
}

// allowCORS lets browser front-ends on any origin call the API.
func allowCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
