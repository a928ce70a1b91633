package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/garyjia/workflow-composer/internal/engine"
	"github.com/garyjia/workflow-composer/internal/export"
	"github.com/garyjia/workflow-composer/internal/session"
	"github.com/garyjia/workflow-composer/internal/specstore"
	"github.com/garyjia/workflow-composer/internal/transcript"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler exposes the resume invocation surface over HTTP
type Handler struct {
	engine     *engine.Engine
	specs      *specstore.Store
	transcript *transcript.Store
	logger     *zap.Logger
}

// NewHandler creates the API handler
func NewHandler(eng *engine.Engine, specs *specstore.Store, transcriptStore *transcript.Store, logger *zap.Logger) *Handler {
	return &Handler{
		engine:     eng,
		specs:      specs,
		transcript: transcriptStore,
		logger:     logger,
	}
}

// RegisterRoutes mounts the API under /api/v1
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/threads", h.CreateThread)
		v1.POST("/threads/:id/messages", h.PostMessage)
		v1.POST("/threads/:id/messages/stream", h.PostMessageStream)
		v1.GET("/threads/:id/document", h.GetDocument)
		v1.GET("/threads/:id/versions", h.ListVersions)
		v1.POST("/threads/:id/versions/:version/select", h.SelectVersion)
		v1.GET("/threads/:id/transcript", h.GetTranscript)
		v1.GET("/threads/:id/export/flow", h.ExportFlow)
	}
}

// messageRequest carries the caller's text. The field is a pointer so an
// explicit empty string (which skips an optional question) is
// distinguishable from a missing key.
type messageRequest struct {
	Text *string `json:"text"`
}

// CreateThread mints a new thread id
func (h *Handler) CreateThread(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"thread_id": uuid.NewString()})
}

// PostMessage drives the thread's pipeline to its next suspend point or
// terminal state and returns the final message
func (h *Handler) PostMessage(c *gin.Context) {
	threadID := c.Param("id")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	result, err := h.engine.StartOrResume(c.Request.Context(), threadID, *req.Text)
	if err != nil {
		h.respondEngineError(c, threadID, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PostMessageStream is the incremental variant: server-sent events with a
// status event per stage transition and a final result event
func (h *Handler) PostMessageStream(c *gin.Context) {
	threadID := c.Param("id")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events := h.engine.StartOrResumeStream(c.Request.Context(), threadID, *req.Text)

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			return false
		}
		switch {
		case event.Err != nil:
			c.SSEvent("error", gin.H{"error": event.Err.Error()})
		case event.Result != nil:
			c.SSEvent("result", event.Result)
		default:
			c.SSEvent("status", gin.H{"status": event.Status})
		}
		return true
	})
}

// GetDocument returns the thread's current specification document
func (h *Handler) GetDocument(c *gin.Context) {
	threadID := c.Param("id")

	record, err := h.specs.Latest(c.Request.Context(), threadID)
	if errors.Is(err, specstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no specification for thread"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load document", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListVersions returns the thread's version numbers in ascending order
func (h *Handler) ListVersions(c *gin.Context) {
	threadID := c.Param("id")

	versions, err := h.specs.ListVersions(c.Request.Context(), threadID)
	if err != nil {
		h.logger.Error("Failed to list versions", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list versions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "versions": versions})
}

// SelectVersion rolls the thread back to the requested version, discarding
// everything after it
func (h *Handler) SelectVersion(c *gin.Context) {
	threadID := c.Param("id")

	target, err := strconv.Atoi(c.Param("version"))
	if err != nil || target < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}

	record, err := h.engine.SelectVersion(c.Request.Context(), threadID, target)
	if errors.Is(err, specstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "version not found"})
		return
	}
	if err != nil {
		h.respondEngineError(c, threadID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thread_id": threadID,
		"version":   record.Version,
		"document":  record.Document,
	})
}

// GetTranscript returns the thread's chat transcript
func (h *Handler) GetTranscript(c *gin.Context) {
	threadID := c.Param("id")

	messages, err := h.transcript.List(c.Request.Context(), threadID)
	if err != nil {
		h.logger.Error("Failed to load transcript", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transcript"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "messages": messages})
}

// ExportFlow renders the thread's current document as a Power Automate
// flow definition
func (h *Handler) ExportFlow(c *gin.Context) {
	threadID := c.Param("id")

	record, err := h.specs.Latest(c.Request.Context(), threadID)
	if errors.Is(err, specstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no specification for thread"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load document for export", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}

	c.JSON(http.StatusOK, export.FlowDefinition(&record.Document))
}

func (h *Handler) respondEngineError(c *gin.Context, threadID string, err error) {
	if errors.Is(err, session.ErrThreadBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("Engine invocation failed", zap.String("thread_id", threadID), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

