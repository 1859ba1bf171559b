package mproject

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/pms-kanban/internal/access"
	"kyri56xcaesar/pms-kanban/internal/authmw"
	"kyri56xcaesar/pms-kanban/internal/cache"
	"kyri56xcaesar/pms-kanban/internal/events"
	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

// key derivation gives up after this many collisions
const keyAttempts = 5

var errBlankName = utils.BadRequest("validation failed", "name must not be blank")

type Handler struct {
	Store   store.Store
	Events  events.Publisher
	Summary cache.SummaryCache
}

func (h *Handler) handleCreate(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		utils.RespondError(c, errBlankName)
		return
	}

	ctx := c.Request.Context()
	caller, _ := authmw.CurrentUser(c)

	members := store.Dedupe(req.MemberIDs)
	if err := h.checkUsers(ctx, members); err != nil {
		utils.RespondError(c, err)
		return
	}

	p := &store.Project{
		Name:        name,
		Key:         req.Key,
		Description: req.Description,
		MemberIDs:   members,
		CreatedByID: caller.ID,
	}

	var err error
	if req.Key != "" {
		err = h.Store.CreateProject(ctx, p)
	} else {
		err = h.createWithDerivedKey(ctx, p)
	}
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	h.publish(c, events.ProjectCreated, p.ID)
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) createWithDerivedKey(ctx context.Context, p *store.Project) error {
	var err error
	for attempt := 1; attempt <= keyAttempts; attempt++ {
		candidate := *p
		candidate.Key = deriveKey(p.Name, attempt)

		err = h.Store.CreateProject(ctx, &candidate)
		if err == nil {
			*p = candidate
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}

// checkUsers rejects ids that do not belong to an existing user.
func (h *Handler) checkUsers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	found, err := h.Store.FindUsers(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) == len(ids) {
		return nil
	}

	known := utils.Map(found, func(u store.User) string { return u.ID })
	unknown := utils.Filter(ids, func(id string) bool {
		for _, k := range known {
			if k == id {
				return false
			}
		}
		return true
	})
	return utils.BadRequest("unknown user ids", unknown...)
}

func (h *Handler) handleList(c *gin.Context) {
	var q ListProjectsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.RespondError(c, err)
		return
	}

	caller, _ := authmw.CurrentUser(c)
	f := store.ProjectFilter{Query: q.Q, Page: q.ToPage()}
	if !caller.IsAdmin() {
		f.VisibleTo = caller.ID
	}

	items, total, err := h.Store.ListProjects(c.Request.Context(), f)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, store.NewResult(items, total, f.Page))
}

func (h *Handler) handleGet(c *gin.Context) {
	caller, _ := authmw.CurrentUser(c)

	p, err := access.Project(c.Request.Context(), h.Store, caller, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

func (h *Handler) handleUpdate(c *gin.Context) {
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, err)
		return
	}

	u := req.toUpdate()
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			utils.RespondError(c, errBlankName)
			return
		}
		u.Name = &name
	}
	if u.Empty() {
		utils.RespondError(c, utils.BadRequest("provide name, key and/or description"))
		return
	}

	p, err := h.Store.UpdateProject(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	h.publish(c, events.ProjectUpdated, p.ID)
	c.JSON(http.StatusOK, p)
}

func (h *Handler) handleDelete(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	n, err := h.Store.DeleteProject(ctx, id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if err := h.Summary.Invalidate(ctx, id); err != nil {
		logger.WarnContext(ctx, "failed to drop cached summary", "project_id", id, "error", err)
	}
	logger.InfoContext(ctx, "project deleted", "project_id", id, "deleted_tasks", n)

	h.publish(c, events.ProjectDeleted, id)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "deletedTasks": n})
}

func (h *Handler) handleAddMembers(c *gin.Context) {
	var req MembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	// 404 for a missing project wins over bad member ids
	if _, err := h.Store.GetProject(ctx, id); err != nil {
		utils.RespondError(c, err)
		return
	}

	ids := store.Dedupe(req.UserIDs)
	if err := h.checkUsers(ctx, ids); err != nil {
		utils.RespondError(c, err)
		return
	}

	p, err := h.Store.AddMembers(ctx, id, ids)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	h.publish(c, events.ProjectMembersChanged, p.ID)
	c.JSON(http.StatusOK, p)
}

func (h *Handler) handleRemoveMember(c *gin.Context) {
	p, err := h.Store.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("userId"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	h.publish(c, events.ProjectMembersChanged, p.ID)
	c.JSON(http.StatusOK, p)
}

func (h *Handler) publish(c *gin.Context, eventType, projectID string) {
	caller, _ := authmw.CurrentUser(c)
	e := events.Event{Type: eventType, ProjectID: projectID}
	if caller != nil {
		e.ActorID = caller.ID
	}
	h.Events.Publish(c.Request.Context(), e)
}
