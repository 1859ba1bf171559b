package mtask

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/pms-kanban/internal/access"
	"kyri56xcaesar/pms-kanban/internal/authmw"
	"kyri56xcaesar/pms-kanban/internal/cache"
	"kyri56xcaesar/pms-kanban/internal/events"
	"kyri56xcaesar/pms-kanban/internal/exports"
	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

type Handler struct {
	Store    store.Store
	Events   events.Publisher
	Summary  cache.SummaryCache
	Archiver exports.Archiver
	Now      func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *Handler) handleTaskCreate(c *gin.Context) {
	ctx := c.Request.Context()
	caller, _ := authmw.CurrentUser(c)

	p, err := access.Project(ctx, h.Store, caller, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, err)
		return
	}

	t := &store.Task{
		ProjectID:   p.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		CreatedByID: caller.ID,
	}
	if t.Title == "" {
		utils.RespondError(c, utils.BadRequest("validation failed", "title must not be blank"))
		return
	}
	if t.Status == "" {
		t.Status = store.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = store.PriorityMedium
	}
	if req.DueDate != "" {
		if t.DueDate, err = parseDue("due_date", req.DueDate); err != nil {
			utils.RespondError(c, err)
			return
		}
	}
	if err := h.checkAssignee(ctx, t.AssigneeID); err != nil {
		utils.RespondError(c, err)
		return
	}

	if err := h.Store.CreateTask(ctx, t); err != nil {
		utils.RespondError(c, err)
		return
	}

	h.touched(c, events.TaskCreated, t)
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) handleListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	caller, _ := authmw.CurrentUser(c)

	p, err := access.Project(ctx, h.Store, caller, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var q ListTasksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.RespondError(c, err)
		return
	}
	f, err := q.filter(p.ID, caller)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	f.Page = q.ToPage()

	items, total, err := h.Store.ListTasks(ctx, f)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, store.NewResult(items, total, f.Page))
}

// visibleTask loads a task and checks the caller may see its project.
func (h *Handler) visibleTask(c *gin.Context) (*store.Task, *store.User, error) {
	ctx := c.Request.Context()
	caller, _ := authmw.CurrentUser(c)

	t, err := h.Store.GetTask(ctx, c.Param("id"))
	if err != nil {
		return nil, nil, err
	}
	if _, err := access.Project(ctx, h.Store, caller, t.ProjectID); err != nil {
		return nil, nil, err
	}
	return t, caller, nil
}

func (h *Handler) handleGetTask(c *gin.Context) {
	t, _, err := h.visibleTask(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) handleTaskUpdate(c *gin.Context) {
	t, caller, err := h.visibleTask(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if !access.CanModifyTask(caller, t) {
		utils.RespondError(c, access.ErrForbidden)
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, err)
		return
	}

	u, err := req.toUpdate()
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if u.Empty() {
		utils.RespondError(c, utils.BadRequest("no fields to update"))
		return
	}

	ctx := c.Request.Context()
	if u.AssigneeID != nil {
		if err := h.checkAssignee(ctx, *u.AssigneeID); err != nil {
			utils.RespondError(c, err)
			return
		}
	}

	updated, err := h.Store.UpdateTask(ctx, t.ID, u)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	h.touched(c, events.TaskUpdated, updated)
	c.JSON(http.StatusOK, updated)
}

func (req UpdateTaskRequest) toUpdate() (store.TaskUpdate, error) {
	u := store.TaskUpdate{
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return u, utils.BadRequest("validation failed", "title must not be blank")
		}
		u.Title = &title
	}

	if req.AssigneeID.Set {
		id := ""
		if req.AssigneeID.Value != nil {
			id = *req.AssigneeID.Value
		}
		u.AssigneeID = &id
	}

	switch {
	case req.DueDate.Cleared():
		u.ClearDueDate = true
	case req.DueDate.Set:
		d, err := parseDue("due_date", *req.DueDate.Value)
		if err != nil {
			return u, err
		}
		u.DueDate = d
	}
	return u, nil
}

func (h *Handler) handleTaskDelete(c *gin.Context) {
	ctx := c.Request.Context()

	t, err := h.Store.GetTask(ctx, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if err := h.Store.DeleteTask(ctx, t.ID); err != nil {
		utils.RespondError(c, err)
		return
	}

	h.touched(c, events.TaskDeleted, t)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleSummary(c *gin.Context) {
	ctx := c.Request.Context()
	caller, _ := authmw.CurrentUser(c)

	p, err := access.Project(ctx, h.Store, caller, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var s Summary
	hit, err := h.Summary.Get(ctx, p.ID, &s)
	if err != nil {
		logger.WarnContext(ctx, "summary cache read failed", "project_id", p.ID, "error", err)
	}
	if hit {
		c.JSON(http.StatusOK, s)
		return
	}

	tasks, _, err := h.Store.ListTasks(ctx, store.TaskFilter{ProjectID: p.ID})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	s = Summarize(p.ID, tasks, h.now())
	if err := h.Summary.Set(ctx, p.ID, s); err != nil {
		logger.WarnContext(ctx, "summary cache write failed", "project_id", p.ID, "error", err)
	}
	c.JSON(http.StatusOK, s)
}

// exportCSV renders the tasks of the caller's visible project matching the
// request's filters.
func (h *Handler) exportCSV(c *gin.Context) (*store.Project, []byte, error) {
	ctx := c.Request.Context()
	caller, _ := authmw.CurrentUser(c)

	p, err := access.Project(ctx, h.Store, caller, c.Param("id"))
	if err != nil {
		return nil, nil, err
	}

	var q ListTasksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return nil, nil, err
	}
	f, err := q.filter(p.ID, caller)
	if err != nil {
		return nil, nil, err
	}

	tasks, _, err := h.Store.ListTasks(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, tasks); err != nil {
		return nil, nil, err
	}
	return p, buf.Bytes(), nil
}

func (h *Handler) handleExportCSV(c *gin.Context) {
	p, data, err := h.exportCSV(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(p.Key)))
	c.Data(http.StatusOK, csvContentType, data)
}

func (h *Handler) handleArchiveExport(c *gin.Context) {
	p, data, err := h.exportCSV(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	ctx := c.Request.Context()
	a, err := h.Archiver.Archive(ctx, exports.ObjectName(p.Key, h.now()), data, csvContentType)
	if errors.Is(err, exports.ErrDisabled) {
		utils.RespondError(c, utils.NotImplemented("export archiving is not configured"))
		return
	}
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	logger.InfoContext(ctx, "export archived", "project_id", p.ID, "object", a.Object, "bytes", len(data))
	c.JSON(http.StatusCreated, a)
}

// checkAssignee rejects an assignee id that is not a known user.
func (h *Handler) checkAssignee(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := h.Store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return utils.BadRequest("unknown assignee", id)
	}
	return err
}

// touched drops the project's cached summary and publishes the change.
func (h *Handler) touched(c *gin.Context, eventType string, t *store.Task) {
	ctx := c.Request.Context()
	if err := h.Summary.Invalidate(ctx, t.ProjectID); err != nil {
		logger.WarnContext(ctx, "failed to drop cached summary", "project_id", t.ProjectID, "error", err)
	}

	e := events.Event{Type: eventType, ProjectID: t.ProjectID, TaskID: t.ID}
	if caller, ok := authmw.CurrentUser(c); ok {
		e.ActorID = caller.ID
	}
	h.Events.Publish(ctx, e)
}
