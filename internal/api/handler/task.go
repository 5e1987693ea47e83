package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/warit/csvmatch/internal/api/middleware"
	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/repository"
	"github.com/warit/csvmatch/internal/service"
)

// TaskHandler handles conversion task endpoints.
type TaskHandler struct {
	intake    *service.Intake
	lifecycle *service.TaskLifecycle
	tasks     *repository.TaskRepository
	tracker   *service.SearchTracker
	search    *service.SearchService
}

// NewTaskHandler creates a new task handler.
// Parameters:
//   - intake: upload intake service.
//   - lifecycle: task state machine.
//   - tasks: task repository for reads.
//   - tracker: search history tracker for stats.
//   - search: search service for column lookups.
// Returns:
//   - *TaskHandler: initialized handler.
func NewTaskHandler(
	intake *service.Intake,
	lifecycle *service.TaskLifecycle,
	tasks *repository.TaskRepository,
	tracker *service.SearchTracker,
	search *service.SearchService,
) *TaskHandler {
	return &TaskHandler{
		intake:    intake,
		lifecycle: lifecycle,
		tasks:     tasks,
		tracker:   tracker,
		search:    search,
	}
}

// Create handles POST /api/v1/tasks. It accepts a multipart CSV upload with
// optional delimiter and encoding fields and enqueues a conversion task.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *TaskHandler) Create(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Multipart field 'file' is required",
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to open uploaded file: " + err.Error(),
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read uploaded file: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	file, err := h.intake.Accept(ctx, fileHeader.Filename, c.PostForm("delimiter"), c.PostForm("encoding"), data)
	if err != nil {
		writeError(c, err)
		return
	}

	task, err := h.lifecycle.CreateTask(ctx, middleware.GetOwner(c), file.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task":        task,
		"source_file": file,
	})
}

// Get handles GET /api/v1/tasks/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.loadOwned(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// List handles GET /api/v1/tasks for the calling owner.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *TaskHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	tasks, err := h.tasks.ListByOwner(c.Request.Context(), middleware.GetOwner(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// Cancel handles POST /api/v1/tasks/:id/cancel. Cancelling a queued task
// takes effect immediately; a processing task stops at its next checkpoint.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *TaskHandler) Cancel(c *gin.Context) {
	task, err := h.loadOwned(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if task.Terminal() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Task already finished",
		})
		return
	}

	if err := h.lifecycle.RequestCancel(c.Request.Context(), task.ID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"status":  "cancel_requested",
	})
}

// Columns handles GET /api/v1/tasks/:id/columns.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *TaskHandler) Columns(c *gin.Context) {
	columns, err := h.search.Columns(c.Request.Context(), middleware.GetOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id": c.Param("id"),
		"columns": columns,
		"total":   len(columns),
	})
}

// Stats handles GET /api/v1/tasks/:id/stats. The aggregate is recomputed
// from the task's full search history on every call.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *TaskHandler) Stats(c *gin.Context) {
	task, err := h.loadOwned(c)
	if err != nil {
		writeError(c, err)
		return
	}

	stats, err := h.tracker.Stats(c.Request.Context(), task.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// loadOwned fetches the task in :id and enforces that the caller owns it.
func (h *TaskHandler) loadOwned(c *gin.Context) (*domain.Task, error) {
	task, err := h.tasks.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if owner := middleware.GetOwner(c); owner != "" && task.OwnerID != owner {
		return nil, domain.ErrAccessDenied
	}
	return task, nil
}
