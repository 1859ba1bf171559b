package mtask

import (
	"github.com/gin-gonic/gin"

	"kyri56xcaesar/pms-kanban/internal/authmw"
	"kyri56xcaesar/pms-kanban/internal/store"
)

// Routes mounts the task endpoints on an authenticated group.
func (h *Handler) Routes(authed *gin.RouterGroup) {
	projects := authed.Group("/projects/:id")
	{
		projects.GET("/tasks", h.handleListTasks)
		projects.POST("/tasks", h.handleTaskCreate)
		projects.GET("/tasks/export.csv", h.handleExportCSV)
		projects.POST("/tasks/export", h.handleArchiveExport)
		projects.GET("/summary", h.handleSummary)
	}

	tasks := authed.Group("/tasks")
	{
		tasks.GET("/:id", h.handleGetTask)
		tasks.PATCH("/:id", h.handleTaskUpdate)
		tasks.DELETE("/:id", authmw.RequireRoles(store.RoleAdmin), h.handleTaskDelete)
	}
}
