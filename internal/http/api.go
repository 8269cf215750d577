package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"torrentd/internal/domain"
	"torrentd/internal/hub"
	"torrentd/internal/registry"
)

// JobService is the management surface the API forwards to. The registry
// implements it.
type JobService interface {
	Add(ctx context.Context, req registry.AddRequest) (domain.Job, error)
	Remove(ctx context.Context, id string, deletePayload bool) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Get(id string) (domain.Job, error)
	Latest() []domain.Job
	Count() int
}

// Handler exposes the REST gateway and the websocket push endpoint.
type Handler struct {
	jobs    JobService
	hub     *hub.Hub
	log     *logrus.Logger
	started time.Time
}

func NewHandler(jobs JobService, h *hub.Hub, log *logrus.Logger) *Handler {
	return &Handler{
		jobs:    jobs,
		hub:     h,
		log:     log,
		started: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/torrents", h.listJobs)
		api.POST("/torrents", h.addJob)
		api.POST("/torrents/upload", h.uploadJob)
		api.GET("/torrents/:id", h.getJob)
		api.POST("/torrents/:id/pause", h.pauseJob)
		api.POST("/torrents/:id/resume", h.resumeJob)
		api.DELETE("/torrents/:id", h.removeJob)
		api.GET("/health", h.health)
	}

	router.GET("/ws", h.handleWebSocket)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// writeError maps the failure taxonomy onto status codes. The kind field
// gives clients a stable discriminator independent of message wording.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, kind = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrEngineRejected):
		status, kind = http.StatusBadGateway, "engine_rejected"
	case errors.Is(err, domain.ErrEngineUnavailable):
		status, kind = http.StatusServiceUnavailable, "engine_unavailable"
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

// listJobs serves the latest snapshot. It never queries the engine; the
// monitor keeps the snapshot fresh.
func (h *Handler) listJobs(c *gin.Context) {
	jobs := h.jobs.Latest()
	if jobs == nil {
		jobs = []domain.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

type addJobRequest struct {
	Source     string `json:"source" binding:"required"`
	Sequential bool   `json:"sequential"`
}

func (h *Handler) addJob(c *gin.Context) {
	var req addJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_input"})
		return
	}

	job, err := h.jobs.Add(c.Request.Context(), registry.AddRequest{
		Source:     req.Source,
		Sequential: req.Sequential,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// uploadJob accepts a .torrent file as multipart form data under the
// "file" field, with an optional "sequential" form flag.
func (h *Handler) uploadJob(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "torrent file is required", "kind": "invalid_input"})
		return
	}

	sequential, err := strconv.ParseBool(c.DefaultPostForm("sequential", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag sequential", "kind": "invalid_input"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_input"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_input"})
		return
	}

	job, err := h.jobs.Add(c.Request.Context(), registry.AddRequest{
		FileData:   data,
		Sequential: sequential,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Handler) pauseJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobs.Pause(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "paused": true})
}

func (h *Handler) resumeJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobs.Resume(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "paused": false})
}

func (h *Handler) removeJob(c *gin.Context) {
	id := c.Param("id")

	deleteFiles, err := strconv.ParseBool(c.DefaultQuery("delete_files", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_files", "kind": "invalid_input"})
		return
	}

	if err := h.jobs.Remove(c.Request.Context(), id, deleteFiles); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"jobs":           h.jobs.Count(),
		"subscribers":    h.hub.SubscriberCount(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
