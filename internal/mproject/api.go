package mproject

import (
	"github.com/gin-gonic/gin"

	"kyri56xcaesar/pms-kanban/internal/authmw"
	"kyri56xcaesar/pms-kanban/internal/store"
)

// Routes mounts the project endpoints on an authenticated group.
func (h *Handler) Routes(authed *gin.RouterGroup) {
	projects := authed.Group("/projects")
	{
		projects.GET("", h.handleList)
		projects.GET("/:id", h.handleGet)
	}

	admin := projects.Group("", authmw.RequireRoles(store.RoleAdmin))
	{
		admin.POST("", h.handleCreate)
		admin.PATCH("/:id", h.handleUpdate)
		admin.DELETE("/:id", h.handleDelete)
		admin.POST("/:id/members", h.handleAddMembers)
		admin.DELETE("/:id/members/:userId", h.handleRemoveMember)
	}
}
