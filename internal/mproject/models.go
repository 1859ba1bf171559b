package mproject

import (
	"strconv"
	"strings"

	"github.com/gosimple/slug"

	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

type CreateProjectRequest struct {
	Name        string   `json:"name" binding:"required,min=1,max=120"`
	Key         string   `json:"key" binding:"omitempty,projectkey"`
	Description string   `json:"description" binding:"max=2000"`
	MemberIDs   []string `json:"memberIds" binding:"omitempty,max=200,dive,required"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=120"`
	Key         *string `json:"key" binding:"omitempty,projectkey"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
}

func (r UpdateProjectRequest) toUpdate() store.ProjectUpdate {
	return store.ProjectUpdate{Name: r.Name, Key: r.Key, Description: r.Description}
}

type MembersRequest struct {
	UserIDs []string `json:"userIds" binding:"required,min=1,max=200,dive,required"`
}

type ListProjectsQuery struct {
	Q string `form:"q" binding:"max=100"`
	utils.PageQuery
}

const maxKeyLen = 20

// deriveKey turns a project name into a key candidate: "Website Redesign"
// becomes "WEBSITE-REDESIGN". attempt > 1 appends a numeric suffix.
func deriveKey(name string, attempt int) string {
	base := strings.ToUpper(slug.Make(name))
	if base == "" {
		base = "PRJ"
	}
	if base[0] < 'A' || base[0] > 'Z' {
		base = "P" + base
	}
	if len(base) < 2 {
		base = "PRJ-" + base
	}

	suffix := ""
	if attempt > 1 {
		suffix = "-" + strconv.Itoa(attempt)
	}
	if len(base)+len(suffix) > maxKeyLen {
		base = base[:maxKeyLen-len(suffix)]
	}
	return strings.TrimRight(base, "-_") + suffix
}
