package utils

import "kyri56xcaesar/pms-kanban/internal/store"

// PageQuery binds the page and limit query parameters. Pointers let an
// explicit page=0 fail validation instead of falling back to the default.
type PageQuery struct {
	Page  *int `form:"page" binding:"omitempty,min=1,max=1000000"`
	Limit *int `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (q PageQuery) ToPage() store.Page {
	var page, limit int
	if q.Page != nil {
		page = *q.Page
	}
	if q.Limit != nil {
		limit = *q.Limit
	}
	return store.NewPage(page, limit)
}
