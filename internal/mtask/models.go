package mtask

import (
	"encoding/json"
	"time"

	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

// Nullable tells an absent JSON field apart from an explicit null.
type Nullable struct {
	Set   bool
	Value *string
}

func (n *Nullable) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// Cleared reports an explicit null or empty string.
func (n Nullable) Cleared() bool {
	return n.Set && (n.Value == nil || *n.Value == "")
}

type CreateTaskRequest struct {
	Title       string         `json:"title" binding:"required,min=1,max=200"`
	Description string         `json:"description" binding:"max=5000"`
	Status      store.Status   `json:"status" binding:"omitempty,taskstatus"`
	Priority    store.Priority `json:"priority" binding:"omitempty,taskpriority"`
	AssigneeID  string         `json:"assigneeId" binding:"max=64"`
	DueDate     string         `json:"dueDate" binding:"max=40"`
}

type UpdateTaskRequest struct {
	Title       *string         `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string         `json:"description" binding:"omitempty,max=5000"`
	Status      *store.Status   `json:"status" binding:"omitempty,taskstatus"`
	Priority    *store.Priority `json:"priority" binding:"omitempty,taskpriority"`
	// "" or null unassigns
	AssigneeID Nullable `json:"assigneeId"`
	// "" or null clears
	DueDate Nullable `json:"dueDate"`
}

type ListTasksQuery struct {
	Status   string `form:"status" binding:"omitempty,taskstatus"`
	Priority string `form:"priority" binding:"omitempty,taskpriority"`
	// a user id, "me" or "none"
	Assignee string `form:"assignee" binding:"max=64"`
	Q        string `form:"q" binding:"max=200"`
	DueFrom  string `form:"dueFrom" binding:"max=40"`
	DueTo    string `form:"dueTo" binding:"max=40"`
	Sort     string `form:"sort" binding:"omitempty,oneof=created_desc created_asc due_asc due_desc priority_desc"`
	utils.PageQuery
}

const (
	assigneeMe   = "me"
	assigneeNone = "none"
)

// filter resolves the query into a store filter for projectID. The page is
// left zero; callers that paginate set it.
func (q ListTasksQuery) filter(projectID string, caller *store.User) (store.TaskFilter, error) {
	f := store.TaskFilter{
		ProjectID: projectID,
		Status:    store.Status(q.Status),
		Priority:  store.Priority(q.Priority),
		Query:     q.Q,
		Sort:      q.Sort,
	}

	switch q.Assignee {
	case "":
	case assigneeMe:
		f.AssigneeID = caller.ID
	case assigneeNone:
		f.Unassigned = true
	default:
		f.AssigneeID = q.Assignee
	}

	if q.DueFrom != "" {
		from, err := utils.ParseDate(q.DueFrom, false)
		if err != nil {
			return f, utils.BadRequest("invalid query", "due_from: "+err.Error())
		}
		f.DueFrom = &from
	}
	if q.DueTo != "" {
		to, err := utils.ParseDate(q.DueTo, true)
		if err != nil {
			return f, utils.BadRequest("invalid query", "due_to: "+err.Error())
		}
		f.DueTo = &to
	}
	if f.DueFrom != nil && f.DueTo != nil && f.DueTo.Before(*f.DueFrom) {
		return f, utils.BadRequest("invalid query", "due_to must not be before due_from")
	}
	return f, nil
}

func parseDue(field string, s string) (*time.Time, error) {
	d, err := utils.ParseDate(s, false)
	if err != nil {
		return nil, utils.BadRequest("validation failed", field+": "+err.Error())
	}
	return &d, nil
}
