package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/VanDung-dev/Blockless-Engine/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPAPI exposes the task registry and dispatch over HTTP.
type HTTPAPI struct {
	manager   *registry.Manager
	scheduler *engine.Scheduler
	logger    *zap.Logger
}

// NewHTTPAPI creates the HTTP API. logger may be nil.
func NewHTTPAPI(manager *registry.Manager, scheduler *engine.Scheduler, logger *zap.Logger) *HTTPAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAPI{
		manager:   manager,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Router builds a gin engine with all routes installed.
func (a *HTTPAPI) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())
	a.SetupRoutes(router)
	return router
}

// SetupRoutes configures all API routes
func (a *HTTPAPI) SetupRoutes(router *gin.Engine) {
	// Task endpoints
	router.POST("/tasks", a.addTask)
	router.GET("/tasks", a.listTasks)
	router.GET("/tasks/:id", a.getTask)
	router.PATCH("/tasks/:id", a.updateTask)
	router.POST("/tasks/:id/complete", a.completeTask)

	// Execution endpoints
	router.POST("/dispatch", a.dispatch)

	// Status endpoints
	router.GET("/status", a.getStatus)
	router.GET("/health", a.healthCheck)
}

// AddTaskRequest is the payload for POST /tasks
type AddTaskRequest struct {
	ID          *uint32 `json:"id" binding:"required"`
	Description string  `json:"description" binding:"required"`
	Priority    int     `json:"priority" binding:"min=0,max=255"`
}

// UpdateTaskRequest is the payload for PATCH /tasks/:id
type UpdateTaskRequest struct {
	Description *string `json:"description"`
	Priority    *int    `json:"priority" binding:"omitempty,min=0,max=255"`
}

// addTask handles POST /tasks
func (a *HTTPAPI) addTask(c *gin.Context) {
	var req AddTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.manager.AddTask(c.Request.Context(), *req.ID, req.Description, uint8(req.Priority)); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	task, err := a.manager.GetTask(c.Request.Context(), *req.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

// listTasks handles GET /tasks
func (a *HTTPAPI) listTasks(c *gin.Context) {
	tasks, err := a.manager.ViewTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// getTask handles GET /tasks/:id
func (a *HTTPAPI) getTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := a.manager.GetTask(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// updateTask handles PATCH /tasks/:id
func (a *HTTPAPI) updateTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var priority *uint8
	if req.Priority != nil {
		p := uint8(*req.Priority)
		priority = &p
	}

	task, err := a.manager.UpdateTask(c.Request.Context(), id, req.Description, priority)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// completeTask handles POST /tasks/:id/complete
func (a *HTTPAPI) completeTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := a.manager.CompleteTask(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// dispatch handles POST /dispatch
func (a *HTTPAPI) dispatch(c *gin.Context) {
	report := a.manager.ExecuteTasks(c.Request.Context())

	failures := make([]gin.H, 0)
	for _, res := range report.Results {
		if res.Err != nil {
			failures = append(failures, gin.H{
				"worker":   res.WorkerID,
				"payload":  res.Task.Payload,
				"priority": res.Task.Priority,
				"error":    res.Err.Error(),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"round_id":    report.ID,
		"executed":    report.Executed(),
		"failed":      report.Failed(),
		"duration_ms": report.Duration.Milliseconds(),
		"failures":    failures,
	})
}

// getStatus handles GET /status
func (a *HTTPAPI) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scheduler": a.scheduler.Stats(),
		"queue":     a.scheduler.Queue().Stats(),
	})
}

// healthCheck handles GET /health
func (a *HTTPAPI) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

func (a *HTTPAPI) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// taskID parses the :id path parameter, writing a 400 on failure.
func taskID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return uint32(id), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrTaskExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPServer serves an http.Handler on a TCP address.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates a server for handler on addr.
func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// StartAsync binds the listener and serves in a goroutine.
func (s *HTTPServer) StartAsync() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = lis

	go func() {
		_ = s.server.Serve(lis)
	}()
	return nil
}

// Addr returns the bound address, or nil before StartAsync.
func (s *HTTPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
