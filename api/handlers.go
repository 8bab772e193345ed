// Package api exposes the task queue over a small REST surface. It is
// a thin translation layer: every handler maps one engine operation,
// and the engine error taxonomy maps onto HTTP status codes.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AditthyaSS/Flux/engine"
	"github.com/AditthyaSS/Flux/log"
	"github.com/AditthyaSS/Flux/types"
)

type createTaskRequest struct {
	URL      string `json:"url" binding:"required"`
	Dir      string `json:"dir"`
	Filename string `json:"filename"`
}

// API serves the REST control surface over a task manager.
type API struct {
	manager *engine.Manager
	log     *log.Logger
}

// New creates the API layer.
func New(manager *engine.Manager, lg *log.Logger) *API {
	if lg == nil {
		lg = log.Nop()
	}
	return &API{manager: manager, log: lg}
}

// Router builds a gin engine with all routes registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", a.Health)

	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.CreateTask)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.POST("/tasks/:id/start", a.StartTask)
		api.POST("/tasks/:id/pause", a.PauseTask)
		api.POST("/tasks/:id/resume", a.ResumeTask)
		api.DELETE("/tasks/:id", a.DeleteTask)
		api.GET("/tasks/:id/decisions", a.GetDecisions)
	}
}

// Health reports liveness.
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": types.Version})
}

// CreateTask enqueues a new download.
func (a *API) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	task, err := a.manager.Add(engine.AddRequest{
		URL:      req.URL,
		Dir:      req.Dir,
		Filename: req.Filename,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	a.log.Info("task created via api",
		zap.String("task_id", task.ID),
		zap.String("url", task.URL))
	c.JSON(http.StatusCreated, task)
}

// ListTasks returns all tasks in creation order.
func (a *API) ListTasks(c *gin.Context) {
	tasks, err := a.manager.List()
	if err != nil {
		a.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []types.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask returns the full inspection view of one task.
func (a *API) GetTask(c *gin.Context) {
	detail, err := a.manager.Detail(c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// StartTask moves a task toward Active.
func (a *API) StartTask(c *gin.Context) {
	a.lifecycle(c, a.manager.Start)
}

// PauseTask stops an active task, preserving resume state.
func (a *API) PauseTask(c *gin.Context) {
	a.lifecycle(c, a.manager.Pause)
}

// ResumeTask restarts a paused task.
func (a *API) ResumeTask(c *gin.Context) {
	a.lifecycle(c, a.manager.Resume)
}

func (a *API) lifecycle(c *gin.Context, op func(string) error) {
	id := c.Param("id")
	if err := op(id); err != nil {
		a.fail(c, err)
		return
	}
	task, err := a.manager.Get(id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask removes a task; ?purge=true also removes files on disk.
func (a *API) DeleteTask(c *gin.Context) {
	purge := c.Query("purge") == "true"
	if err := a.manager.Delete(c.Param("id"), purge); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetDecisions returns the decision history for one task.
func (a *API) GetDecisions(c *gin.Context) {
	recs, err := a.manager.Decisions(c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	if recs == nil {
		recs = []types.DecisionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs})
}

// fail maps engine errors onto HTTP status codes.
func (a *API) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, types.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		a.log.Error("api request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
